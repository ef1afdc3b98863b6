package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// fakeAdapter records every outbound call and can be told to fail per chat.
type fakeAdapter struct {
	mu sync.Mutex

	texts   []sentText
	photos  []sentMedia
	videos  []sentMedia
	albums  []sentAlbum
	deletes []kit.MessageRef
	edits   []markupEdit
	answers []cbAnswer

	// failSend[chatID] > 0 makes the next N sends to that chat fail.
	failSend    map[int64]int
	deleteErr   map[int]error // keyed by message id
	unreachable map[int64]bool

	nextMsgID int
}

type sentText struct {
	to     kit.ChatTarget
	text   string
	markup *kit.Markup
}

type sentMedia struct {
	to   kit.ChatTarget
	item kit.MediaItem
}

type sentAlbum struct {
	to    kit.ChatTarget
	items []kit.MediaItem
}

type markupEdit struct {
	ref    kit.MessageRef
	markup *kit.Markup
}

type cbAnswer struct {
	id    string
	text  string
	alert bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		failSend:    map[int64]int{},
		deleteErr:   map[int]error{},
		unreachable: map[int64]bool{},
	}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) maybeFail(chatID int64) error {
	if f.failSend[chatID] > 0 {
		f.failSend[chatID]--
		return errors.New("send rejected")
	}
	return nil
}

func (f *fakeAdapter) ref(to kit.ChatTarget) kit.MessageRef {
	f.nextMsgID++
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextMsgID}
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(to.ChatID); err != nil {
		return kit.MessageRef{}, err
	}
	var markup *kit.Markup
	if opt != nil {
		markup = opt.Markup
	}
	f.texts = append(f.texts, sentText{to: to, text: text, markup: markup})
	return f.ref(to), nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, item kit.MediaItem, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(to.ChatID); err != nil {
		return kit.MessageRef{}, err
	}
	f.photos = append(f.photos, sentMedia{to: to, item: item})
	return f.ref(to), nil
}

func (f *fakeAdapter) SendVideo(_ context.Context, to kit.ChatTarget, item kit.MediaItem, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(to.ChatID); err != nil {
		return kit.MessageRef{}, err
	}
	f.videos = append(f.videos, sentMedia{to: to, item: item})
	return f.ref(to), nil
}

func (f *fakeAdapter) SendAlbum(_ context.Context, to kit.ChatTarget, items []kit.MediaItem) ([]kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(to.ChatID); err != nil {
		return nil, err
	}
	f.albums = append(f.albums, sentAlbum{to: to, items: append([]kit.MediaItem(nil), items...)})
	refs := make([]kit.MessageRef, 0, len(items))
	for range items {
		refs = append(refs, f.ref(to))
	}
	return refs, nil
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[ref.MessageID]; err != nil {
		return err
	}
	f.deletes = append(f.deletes, ref)
	return nil
}

func (f *fakeAdapter) EditMarkup(_ context.Context, ref kit.MessageRef, markup *kit.Markup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, markupEdit{ref: ref, markup: markup})
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, callbackID string, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, cbAnswer{id: callbackID, text: text, alert: alert})
	return nil
}

func (f *fakeAdapter) CheckChat(_ context.Context, to kit.ChatTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable[to.ChatID] {
		return errors.New("chat not found")
	}
	return nil
}

func (f *fakeAdapter) lastText(t *testing.T) sentText {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		t.Fatal("no texts sent")
	}
	return f.texts[len(f.texts)-1]
}

// newTestService builds a Service over the flat-file store in a temp dir.
func newTestService(t *testing.T, cfg Config) (*Service, *fakeAdapter, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir() + "/relay.db"}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	adp := newFakeAdapter()
	return New(cfg, adp, st, logx.Nop()), adp, st
}

func mustEnsureGroup(t *testing.T, st storage.Store, id int64, name string) {
	t.Helper()
	if _, err := st.EnsureGroup(context.Background(), storage.Group{ID: id, Name: name}); err != nil {
		t.Fatalf("ensure group %d: %v", id, err)
	}
}
