package broadcast

import (
	"encoding/json"
	"fmt"

	kit "relaybot/internal/transport"
)

// Content is the closed set of message payloads an operator can stage.
type Content interface {
	contentKind() string
}

// Text is a plain text broadcast.
type Text struct {
	Body string
}

// Media is a single photo or video with an optional caption.
type Media struct {
	Kind    kit.MediaKind
	FileID  string
	Caption string
}

// Album is an ordered multi-item media submission sent as one grouped message.
type Album struct {
	Items []Media
}

const (
	kindText  = "text"
	kindAlbum = "media_group"
)

func (Text) contentKind() string    { return kindText }
func (m Media) contentKind() string { return string(m.Kind) }
func (Album) contentKind() string   { return kindAlbum }

// Storage envelope. The shape mirrors the platform's own media group items
// (type/media/caption) so ledger rows stay readable.
type contentEnvelope struct {
	Type    string      `json:"type"`
	Data    string      `json:"data,omitempty"`
	Caption string      `json:"caption,omitempty"`
	Items   []albumItem `json:"items,omitempty"`
}

type albumItem struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

func encodeContent(c Content) (json.RawMessage, error) {
	var env contentEnvelope
	switch v := c.(type) {
	case Text:
		env = contentEnvelope{Type: kindText, Data: v.Body}
	case Media:
		env = contentEnvelope{Type: string(v.Kind), Data: v.FileID, Caption: v.Caption}
	case Album:
		env.Type = kindAlbum
		for _, it := range v.Items {
			env.Items = append(env.Items, albumItem{Type: string(it.Kind), Media: it.FileID, Caption: it.Caption})
		}
	default:
		return nil, fmt.Errorf("unknown content type %T", c)
	}
	return json.Marshal(env)
}

func decodeContent(raw json.RawMessage) (Content, error) {
	var env contentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case kindText:
		return Text{Body: env.Data}, nil
	case string(kit.MediaPhoto), string(kit.MediaVideo):
		return Media{Kind: kit.MediaKind(env.Type), FileID: env.Data, Caption: env.Caption}, nil
	case kindAlbum:
		a := Album{Items: make([]Media, 0, len(env.Items))}
		for _, it := range env.Items {
			a.Items = append(a.Items, Media{Kind: kit.MediaKind(it.Type), FileID: it.Media, Caption: it.Caption})
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", env.Type)
	}
}
