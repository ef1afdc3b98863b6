package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the record store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Group is a registered broadcast destination. Append-only: created on first
// observed inbound activity, never mutated, never deleted.
type Group struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

// User is a sender profile, upserted on every inbound message.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	IsBot     bool      `json:"is_bot,omitempty"`
	SeenAt    time.Time `json:"seen_at"`
}

// PendingBroadcast is one operator's in-flight composed message plus the
// current destination selection. At most one per owner; owner-keyed upsert.
// Content is an opaque envelope owned by the broadcast package.
type PendingBroadcast struct {
	OwnerID   int64           `json:"owner_id"`
	Content   json.RawMessage `json:"content"`
	Groups    []int64         `json:"groups"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SentMessage is one delivery ledger record: one content unit delivered to one
// destination. Append-only; removed only by retraction or retention pruning.
type SentMessage struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	GroupID   int64     `json:"group_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Caption   string    `json:"caption,omitempty"`
	SentAt    time.Time `json:"sent_at"`
	MessageID int       `json:"message_id"`
}
