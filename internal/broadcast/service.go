package broadcast

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Owners          []int64
	AlbumWindow     time.Duration
	RatePerSec      int
	RetryMax        int
	LedgerRetention time.Duration
}

const handleTimeout = 30 * time.Second

// Service is the staging and dispatch core. All inbound updates are handled
// by a single Run loop; only album debounce timers fire on other goroutines,
// and everything they touch is locked per batch/owner.
type Service struct {
	adapter kit.Adapter
	store   storage.Store
	log     logx.Logger

	pending *pendingStore
	albums  *aggregator

	// mu guards cfg/limiter, which Apply() may swap on config reload.
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, adapter kit.Adapter, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		store:   store,
		log:     log,
		pending: newPendingStore(store),
	}
	s.albums = newAggregator(cfg.AlbumWindow, s.albumReady)
	s.Apply(cfg)
	return s
}

// Apply installs new dispatch settings. Safe to call while running; the album
// debounce window is fixed at construction.
func (s *Service) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.LedgerRetention <= 0 {
		cfg.LedgerRetention = 30 * 24 * time.Hour
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) rateLimiter() *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiter
}

func (s *Service) isOwner(id int64) bool {
	for _, o := range s.config().Owners {
		if o == id {
			return true
		}
	}
	return false
}

// Run consumes platform updates until ctx is done.
func (s *Service) Run(ctx context.Context, updates <-chan kit.Update) error {
	s.log.Info("broadcast core started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("broadcast core stopped")
			return nil
		case up := <-updates:
			hctx, cancel := context.WithTimeout(ctx, handleTimeout)
			switch up.Kind {
			case kit.UpdateMessage:
				if up.Message != nil {
					s.handleMessage(hctx, up.Message)
				}
			case kit.UpdateCallback:
				if up.Callback != nil {
					s.handleCallback(hctx, up.Callback)
				}
			}
			cancel()
		}
	}
}

func (s *Service) handleMessage(ctx context.Context, m *kit.Message) {
	if m.FromID != 0 {
		err := s.store.UpsertUser(ctx, storage.User{
			ID:        m.FromID,
			Username:  m.FromUsername,
			FirstName: m.FromFirstName,
			LastName:  m.FromLastName,
			IsBot:     m.FromIsBot,
		})
		if err != nil {
			s.log.Warn("user upsert failed", logx.Int64("user_id", m.FromID), logx.Err(err))
		}
	}

	// Any group activity registers the group as a broadcast destination.
	if m.ChatKind.IsGroup() {
		s.ensureGroup(ctx, m.ChatID, m.ChatTitle)
		return
	}
	if m.ChatKind != kit.ChatPrivate {
		return
	}

	chat := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if !s.isOwner(m.FromID) {
		s.reply(ctx, chat, msgDenied, nil)
		return
	}

	switch m.Text {
	case "/start":
		s.reply(ctx, chat, msgWelcome, mainMenu())
		return
	case menuListGroups:
		s.listGroups(ctx, chat)
		return
	case menuDeleteLast:
		s.retractLast(ctx, chat)
		return
	}

	// Album parts are buffered; the aggregator stages the pending broadcast
	// once the burst goes quiet.
	if m.AlbumID != "" && m.Media != nil {
		s.albums.Add(m.AlbumID, m.FromID, chat, Media{
			Kind:    m.Media.Kind,
			FileID:  m.Media.FileID,
			Caption: m.Media.Caption,
		})
		return
	}

	content, ok := classify(m)
	if !ok {
		return
	}
	s.stage(ctx, m.FromID, chat, content)
}

// classify maps an inbound private message onto stageable content.
// Commands and unsupported kinds are ignored.
func classify(m *kit.Message) (Content, bool) {
	switch {
	case m.Text != "" && !strings.HasPrefix(m.Text, "/"):
		return Text{Body: m.Text}, true
	case m.Media != nil:
		return Media{Kind: m.Media.Kind, FileID: m.Media.FileID, Caption: m.Media.Caption}, true
	default:
		return nil, false
	}
}

// stage replaces the operator's pending broadcast and shows the selection keyboard.
func (s *Service) stage(ctx context.Context, ownerID int64, chat kit.ChatTarget, c Content) {
	if err := s.pending.Set(ctx, ownerID, c); err != nil {
		s.log.Error("pending stage failed", logx.Int64("owner_id", ownerID), logx.Err(err))
		return
	}
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		s.log.Error("group list failed", logx.Err(err))
		return
	}
	s.reply(ctx, chat, msgChooseGroups, selectionMarkup(groups, nil))
}

// albumReady runs on a debounce timer goroutine once an album burst goes quiet.
func (s *Service) albumReady(ownerID int64, chat kit.ChatTarget, items []Media) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	s.log.Debug("album finalized", logx.Int64("owner_id", ownerID), logx.Int("items", len(items)))
	s.stage(ctx, ownerID, chat, Album{Items: items})
}

func (s *Service) handleCallback(ctx context.Context, cb *kit.Callback) {
	// An interaction without a staged broadcast is stale; drop it silently.
	if groupID, ok := parseToggle(cb.Data); ok {
		upd, found, err := s.pending.Toggle(ctx, cb.FromID, groupID)
		if err != nil {
			s.log.Warn("toggle failed", logx.Int64("owner_id", cb.FromID), logx.Err(err))
			return
		}
		if !found {
			return
		}
		groups, err := s.store.ListGroups(ctx)
		if err != nil {
			s.log.Error("group list failed", logx.Err(err))
			return
		}
		ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
		if err := s.adapter.EditMarkup(ctx, ref, selectionMarkup(groups, upd.Groups)); err != nil {
			s.log.Warn("markup update failed", logx.Err(err))
		}
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}

	var sel targetSelector
	switch cb.Data {
	case cbSendSelected:
		sel = selectSelected
	case cbSendAll:
		sel = selectAll
	default:
		return
	}
	s.confirm(ctx, cb, sel)
}

func (s *Service) ensureGroup(ctx context.Context, chatID int64, title string) {
	if title == "" {
		title = "No name"
	}
	created, err := s.store.EnsureGroup(ctx, storage.Group{ID: chatID, Name: title})
	if err != nil {
		s.log.Warn("group register failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	if created {
		s.log.Info("new group registered", logx.Int64("chat_id", chatID), logx.String("name", title))
	}
}

func (s *Service) reply(ctx context.Context, to kit.ChatTarget, text string, markup *kit.Markup) {
	_, err := s.adapter.SendText(ctx, to, text, &kit.SendOptions{Markup: markup})
	if err != nil {
		s.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
