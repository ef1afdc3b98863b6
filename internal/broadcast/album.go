package broadcast

import (
	"sync"
	"time"

	kit "relaybot/internal/transport"
)

// defaultAlbumWindow is the quiet period after which an album is considered
// complete. Telegram delivers album parts as a rapid burst of independent
// updates with no terminating signal, so debouncing is the only reliable
// completion heuristic.
const defaultAlbumWindow = 1500 * time.Millisecond

type timerHandle interface {
	Stop() bool
}

type albumBatch struct {
	ownerID int64
	chat    kit.ChatTarget
	items   []Media
	timer   timerHandle
}

// aggregator collects the parts of a multi-item album submission keyed by the
// platform batch id and finalizes each batch after a quiet period. Every new
// part cancels and restarts the batch timer.
//
// The timer factory is injectable so tests can fire batches without waiting
// out real debounce windows.
type aggregator struct {
	mu      sync.Mutex
	window  time.Duration
	batches map[string]*albumBatch

	after func(d time.Duration, fn func()) timerHandle
	emit  func(ownerID int64, chat kit.ChatTarget, items []Media)
}

func newAggregator(window time.Duration, emit func(ownerID int64, chat kit.ChatTarget, items []Media)) *aggregator {
	if window <= 0 {
		window = defaultAlbumWindow
	}
	return &aggregator{
		window:  window,
		batches: map[string]*albumBatch{},
		after:   func(d time.Duration, fn func()) timerHandle { return time.AfterFunc(d, fn) },
		emit:    emit,
	}
}

// Add appends an item to the batch (creating it if absent) and restarts the
// debounce timer. Atomic per batch id.
func (a *aggregator) Add(batchID string, ownerID int64, chat kit.ChatTarget, item Media) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.batches[batchID]
	if b == nil {
		b = &albumBatch{ownerID: ownerID, chat: chat}
		a.batches[batchID] = b
	}
	b.items = append(b.items, item)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = a.after(a.window, func() { a.finalize(batchID) })
}

// finalize drains the batch and hands it to emit. Silently returns when the
// batch is gone or empty (a late timer racing an external clear).
func (a *aggregator) finalize(batchID string) {
	a.mu.Lock()
	b := a.batches[batchID]
	delete(a.batches, batchID)
	a.mu.Unlock()

	if b == nil || len(b.items) == 0 {
		return
	}
	a.emit(b.ownerID, b.chat, b.items)
}
