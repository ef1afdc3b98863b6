package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSuperGroup ChatKind = "supergroup"
	ChatOther      ChatKind = "other"
)

func (k ChatKind) IsGroup() bool { return k == ChatGroup || k == ChatSuperGroup }

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// MediaItem is a single photo/video reference as Telegram hands it to us.
type MediaItem struct {
	Kind    MediaKind
	FileID  string
	Caption string
}

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID        int
	ChatID    int64
	ChatTitle string
	ChatKind  ChatKind
	ThreadID  int // telegram forum topic thread id (0 if none)

	FromID        int64
	FromUsername  string
	FromFirstName string
	FromLastName  string
	FromIsBot     bool

	Text  string
	Media *MediaItem
	// AlbumID groups the parts of a multi-item album submission
	// (telegram media_group_id). Empty for standalone messages.
	AlbumID string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is one inline keyboard button carrying raw callback data.
type Button struct {
	Text string
	Data string
}

// Markup is an adapter-neutral reply markup: either an inline keyboard
// (callback buttons) or a persistent reply keyboard (plain text buttons).
// An empty Markup clears any existing inline keyboard when used with EditMarkup.
type Markup struct {
	Inline   [][]Button
	Keyboard [][]string
	Resize   bool
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Markup         *Markup
}

// Adapter is the narrow messaging-platform surface the core consumes.
// All methods are safe for concurrent use.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, item MediaItem, opt *SendOptions) (MessageRef, error)
	SendVideo(ctx context.Context, to ChatTarget, item MediaItem, opt *SendOptions) (MessageRef, error)
	// SendAlbum sends all items as one grouped message. The returned refs are
	// in item order; the call is atomic (all items accepted or an error).
	SendAlbum(ctx context.Context, to ChatTarget, items []MediaItem) ([]MessageRef, error)

	DeleteMessage(ctx context.Context, ref MessageRef) error
	EditMarkup(ctx context.Context, ref MessageRef, markup *Markup) error
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error

	// CheckChat probes whether the bot can still see the chat.
	// Used by listing views only, never by dispatch.
	CheckChat(ctx context.Context, to ChatTarget) error
}
