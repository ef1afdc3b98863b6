package broadcast

import (
	"context"
	"sync"

	"relaybot/internal/storage"
)

// Pending is one operator's staged broadcast plus destination selection.
type Pending struct {
	OwnerID int64
	Content Content
	Groups  []int64
}

// pendingStore holds at most one pending broadcast per operator on top of the
// record store. Read-modify-write operations (Toggle) are serialized per owner
// so concurrent updates for the same operator can't lose a toggle; different
// owners never contend.
type pendingStore struct {
	store storage.Store

	mu     sync.Mutex
	owners map[int64]*sync.Mutex
}

func newPendingStore(store storage.Store) *pendingStore {
	return &pendingStore{store: store, owners: map[int64]*sync.Mutex{}}
}

func (p *pendingStore) ownerLock(ownerID int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := p.owners[ownerID]
	if l == nil {
		l = &sync.Mutex{}
		p.owners[ownerID] = l
	}
	return l
}

// Set replaces any existing pending broadcast for the owner.
// Selection always resets to empty; last writer wins.
func (p *pendingStore) Set(ctx context.Context, ownerID int64, c Content) error {
	raw, err := encodeContent(c)
	if err != nil {
		return err
	}
	l := p.ownerLock(ownerID)
	l.Lock()
	defer l.Unlock()
	return p.store.PutPending(ctx, storage.PendingBroadcast{
		OwnerID: ownerID,
		Content: raw,
		Groups:  []int64{},
	})
}

func (p *pendingStore) Get(ctx context.Context, ownerID int64) (Pending, bool, error) {
	rec, ok, err := p.store.GetPending(ctx, ownerID)
	if err != nil || !ok {
		return Pending{}, false, err
	}
	c, err := decodeContent(rec.Content)
	if err != nil {
		return Pending{}, false, err
	}
	return Pending{OwnerID: ownerID, Content: c, Groups: rec.Groups}, true, nil
}

// Toggle flips membership of groupID in the owner's selection.
// Returns the updated pending broadcast, or ok=false (silent no-op) when the
// owner has nothing staged.
func (p *pendingStore) Toggle(ctx context.Context, ownerID, groupID int64) (Pending, bool, error) {
	l := p.ownerLock(ownerID)
	l.Lock()
	defer l.Unlock()

	rec, ok, err := p.store.GetPending(ctx, ownerID)
	if err != nil || !ok {
		return Pending{}, false, err
	}

	found := false
	groups := make([]int64, 0, len(rec.Groups)+1)
	for _, id := range rec.Groups {
		if id == groupID {
			found = true
			continue
		}
		groups = append(groups, id)
	}
	if !found {
		groups = append(groups, groupID)
	}
	rec.Groups = groups

	if err := p.store.PutPending(ctx, rec); err != nil {
		return Pending{}, false, err
	}
	c, err := decodeContent(rec.Content)
	if err != nil {
		return Pending{}, false, err
	}
	return Pending{OwnerID: ownerID, Content: c, Groups: groups}, true, nil
}

func (p *pendingStore) Clear(ctx context.Context, ownerID int64) error {
	l := p.ownerLock(ownerID)
	l.Lock()
	defer l.Unlock()
	return p.store.DeletePending(ctx, ownerID)
}
