package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast"`
}

type TelegramConfig struct {
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is the audit sink: a chat id that receives dispatch and
	// retraction summaries via the logging Telegram sink.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the record store backend.
//
// Driver values:
//   - "file": flat-file backend (jsonl journal + snapshots)
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// BroadcastConfig tunes the staging and dispatch core.
//
// All durations are Go duration strings (e.g. "1.5s", "720h").
//
// Defaults (when fields are omitted/zero):
//   - album_window: "1.5s"
//   - rate_per_sec: 10
//   - retry_max: 2
//   - ledger_retention: "720h"
//   - prune_schedule: "0 4 * * *"
type BroadcastConfig struct {
	AlbumWindow     string `json:"album_window,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	LedgerRetention string `json:"ledger_retention,omitempty"`
	PruneSchedule   string `json:"prune_schedule,omitempty"`
}

// applyEnv fills credentials from the environment when the config file omits
// them (BOT_TOKEN, OWNER_IDS as a comma-separated id list).
func (c *Config) applyEnv() {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		c.Telegram.Token = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	}
	if len(c.Telegram.OwnerUserIDs) == 0 {
		for _, part := range strings.Split(os.Getenv("OWNER_IDS"), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				continue
			}
			c.Telegram.OwnerUserIDs = append(c.Telegram.OwnerUserIDs, id)
		}
	}
}
