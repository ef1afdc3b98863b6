package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "relaybot/pkg/logx"
)

// Store is the persistence API consumed by the broadcast core.
type Store interface {
	// EnsureGroup registers a destination if absent (idempotent).
	// Reports whether the group was newly added.
	EnsureGroup(ctx context.Context, g Group) (bool, error)
	// ListGroups returns all destinations in insertion order.
	ListGroups(ctx context.Context) ([]Group, error)

	UpsertUser(ctx context.Context, u User) error

	PutPending(ctx context.Context, p PendingBroadcast) error
	GetPending(ctx context.Context, ownerID int64) (PendingBroadcast, bool, error)
	DeletePending(ctx context.Context, ownerID int64) error

	// AppendSent appends a ledger record and returns its id.
	AppendSent(ctx context.Context, m SentMessage) (int64, error)
	// LastSent returns the most recent ledger record for a destination.
	LastSent(ctx context.Context, groupID int64) (SentMessage, bool, error)
	DeleteSent(ctx context.Context, id int64) error
	// PruneSent removes ledger records older than the cutoff, returning the count.
	PruneSent(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
