package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "relaybot/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// Files:
//   - <prefix>.groups.json        (snapshot, rewritten on change)
//   - <prefix>.users.json         (snapshot, rewritten on change)
//   - <prefix>.pending.json       (snapshot, rewritten on change)
//   - <prefix>.sent.snapshot.json (periodic snapshot)
//   - <prefix>.sent.journal.jsonl (append-only journal)
//
// The ledger journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	prefix string

	groups  []Group
	users   map[int64]User
	pending map[int64]PendingBroadcast

	sent       map[int64]SentMessage
	sentOrder  []int64 // append order, ids of live records
	nextSentID int64

	journal    *os.File
	sentWrites int

	closed bool
}

type sentJournalRecord struct {
	Op  string       `json:"op"` // "add" or "del"
	ID  int64        `json:"id,omitempty"`
	Rec *SentMessage `json:"rec,omitempty"`
}

type sentSnapshot struct {
	NextID  int64         `json:"next_id"`
	Records []SentMessage `json:"records"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:        log,
		prefix:     prefix,
		users:      map[int64]User{},
		pending:    map[int64]PendingBroadcast{},
		sent:       map[int64]SentMessage{},
		nextSentID: 1,
	}

	_ = readJSONFile(prefix+".groups.json", &s.groups)
	_ = readJSONFile(prefix+".users.json", &s.users)
	_ = readJSONFile(prefix+".pending.json", &s.pending)
	s.loadSent()

	jf, err := os.OpenFile(prefix+".sent.journal.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) loadSent() {
	var snap sentSnapshot
	if err := readJSONFile(s.prefix+".sent.snapshot.json", &snap); err == nil {
		for _, r := range snap.Records {
			s.sent[r.ID] = r
		}
		if snap.NextID > 0 {
			s.nextSentID = snap.NextID
		}
	}
	// Replay the journal over the snapshot.
	if f, err := os.Open(s.prefix + ".sent.journal.jsonl"); err == nil {
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			var jr sentJournalRecord
			if err := json.Unmarshal(sc.Bytes(), &jr); err != nil {
				continue
			}
			switch jr.Op {
			case "add":
				if jr.Rec != nil {
					s.sent[jr.Rec.ID] = *jr.Rec
					if jr.Rec.ID >= s.nextSentID {
						s.nextSentID = jr.Rec.ID + 1
					}
				}
			case "del":
				delete(s.sent, jr.ID)
			}
		}
		_ = f.Close()
	}
	s.rebuildSentOrder()
}

func (s *fileStore) rebuildSentOrder() {
	s.sentOrder = s.sentOrder[:0]
	for id := range s.sent {
		s.sentOrder = append(s.sentOrder, id)
	}
	sort.Slice(s.sentOrder, func(i, j int) bool { return s.sentOrder[i] < s.sentOrder[j] })
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal != nil {
		err := s.journal.Close()
		s.journal = nil
		return err
	}
	return nil
}

func (s *fileStore) EnsureGroup(ctx context.Context, g Group) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	for _, known := range s.groups {
		if known.ID == g.ID {
			return false, nil
		}
	}
	if g.AddedAt.IsZero() {
		g.AddedAt = time.Now()
	}
	s.groups = append(s.groups, g)
	return true, writeJSONFile(s.prefix+".groups.json", s.groups)
}

func (s *fileStore) ListGroups(ctx context.Context) ([]Group, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Group, len(s.groups))
	copy(out, s.groups)
	return out, nil
}

func (s *fileStore) UpsertUser(ctx context.Context, u User) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if u.SeenAt.IsZero() {
		u.SeenAt = time.Now()
	}
	s.users[u.ID] = u
	return writeJSONFile(s.prefix+".users.json", s.users)
}

func (s *fileStore) PutPending(ctx context.Context, p PendingBroadcast) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	s.pending[p.OwnerID] = p
	return writeJSONFile(s.prefix+".pending.json", s.pending)
}

func (s *fileStore) GetPending(ctx context.Context, ownerID int64) (PendingBroadcast, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return PendingBroadcast{}, false, ErrClosed
	}
	p, ok := s.pending[ownerID]
	return p, ok, nil
}

func (s *fileStore) DeletePending(ctx context.Context, ownerID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.pending[ownerID]; !ok {
		return nil
	}
	delete(s.pending, ownerID)
	return writeJSONFile(s.prefix+".pending.json", s.pending)
}

func (s *fileStore) AppendSent(ctx context.Context, m SentMessage) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	m.ID = s.nextSentID
	s.nextSentID++
	s.sent[m.ID] = m
	s.sentOrder = append(s.sentOrder, m.ID)
	if err := s.appendJournalLocked(sentJournalRecord{Op: "add", Rec: &m}); err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (s *fileStore) LastSent(ctx context.Context, groupID int64) (SentMessage, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SentMessage{}, false, ErrClosed
	}
	var (
		best  SentMessage
		found bool
	)
	for _, id := range s.sentOrder {
		rec, ok := s.sent[id]
		if !ok || rec.GroupID != groupID {
			continue
		}
		if !found || rec.SentAt.After(best.SentAt) || (rec.SentAt.Equal(best.SentAt) && rec.ID > best.ID) {
			best = rec
			found = true
		}
	}
	return best, found, nil
}

func (s *fileStore) DeleteSent(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.sent[id]; !ok {
		return nil
	}
	delete(s.sent, id)
	return s.appendJournalLocked(sentJournalRecord{Op: "del", ID: id})
}

func (s *fileStore) PruneSent(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var pruned int64
	for id, rec := range s.sent {
		if rec.SentAt.Before(olderThan) {
			delete(s.sent, id)
			pruned++
		}
	}
	if pruned > 0 {
		if err := s.compactLocked(); err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

func (s *fileStore) appendJournalLocked(jr sentJournalRecord) error {
	if s.journal == nil {
		return errors.New("sent journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(jr); err != nil {
		return err
	}
	s.sentWrites++
	if s.sentWrites%500 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("ledger compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	s.rebuildSentOrder()
	snap := sentSnapshot{NextID: s.nextSentID, Records: make([]SentMessage, 0, len(s.sentOrder))}
	for _, id := range s.sentOrder {
		snap.Records = append(snap.Records, s.sent[id])
	}
	if err := writeJSONFile(s.prefix+".sent.snapshot.json", snap); err != nil {
		return err
	}
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err := s.journal.Seek(0, 2)
	return err
}

func readJSONFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

// writeJSONFile writes atomically via a temp file rename.
func writeJSONFile(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
