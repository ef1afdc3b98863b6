package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [42, 43]
  group_log: "-100999"
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./relay.db
broadcast:
  album_window: "2s"
  rate_per_sec: 5
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Broadcast.RatePerSec != 5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Broadcast.AlbumWindow != "2s" {
		t.Fatalf("album_window = %q", cfg.Broadcast.AlbumWindow)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  owner_userids: [42]
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestParseFillsFromEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env:token")
	t.Setenv("OWNER_IDS", "7, 8,oops,9")

	path := writeConfig(t, "config.yaml", `
logging:
  level: info
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "env:token" {
		t.Fatalf("token = %q, want env fallback", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 3 || cfg.Telegram.OwnerUserIDs[2] != 9 {
		t.Fatalf("owners = %v, want [7 8 9]", cfg.Telegram.OwnerUserIDs)
	}
}

func TestParseConfigFileWins(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env:token")

	path := writeConfig(t, "config.yaml", `
telegram:
  token: "file:token"
  owner_user_ids: [1]
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "file:token" {
		t.Fatalf("token = %q, want file value over env", cfg.Telegram.Token)
	}
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram":{"token":"t","owner_user_ids":[1]},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"telegram":{"enabled":false,"thread_id":0,"min_level":"","rate_per_sec":0}},"storage":{"driver":"file","path":"x"},"broadcast":{}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "t" || cfg.Storage.Path != "x" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("received different config pointer")
		}
	default:
		t.Fatal("no config published")
	}

	// A slow subscriber gets the newest config, not the stale one.
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("stale config not replaced by newest")
	}
}

func TestParseDurationField(t *testing.T) {
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	d, err := ParseDurationOrDefault("x", "", 5)
	if err != nil || d != 5 {
		t.Fatalf("default = (%v, %v)", d, err)
	}
	d, err = ParseDurationOrDefault("x", "1.5s", 5)
	if err != nil || d.Milliseconds() != 1500 {
		t.Fatalf("parsed = (%v, %v)", d, err)
	}
}
