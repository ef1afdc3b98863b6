package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "relaybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) EnsureGroup(ctx context.Context, g Group) (bool, error) {
	if g.AddedAt.IsZero() {
		g.AddedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(chat_id, name, added_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		g.ID, g.Name, g.AddedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, name, added_at FROM groups ORDER BY pos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var (
			g  Group
			at string
		)
		if err := rows.Scan(&g.ID, &g.Name, &at); err != nil {
			return nil, err
		}
		g.AddedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	if u.SeenAt.IsZero() {
		u.SeenAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, first_name, last_name, is_bot, seen_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username=excluded.username, first_name=excluded.first_name,
		   last_name=excluded.last_name, is_bot=excluded.is_bot, seen_at=excluded.seen_at`,
		u.ID, nullStr(u.Username), nullStr(u.FirstName), nullStr(u.LastName),
		boolInt(u.IsBot), u.SeenAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) PutPending(ctx context.Context, p PendingBroadcast) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	groups, err := json.Marshal(p.Groups)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending(owner_id, content, groups, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(owner_id) DO UPDATE SET
		   content=excluded.content, groups=excluded.groups, updated_at=excluded.updated_at`,
		p.OwnerID, string(p.Content), string(groups), p.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetPending(ctx context.Context, ownerID int64) (PendingBroadcast, bool, error) {
	var (
		p       PendingBroadcast
		content string
		groups  string
		at      string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content, groups, updated_at FROM pending WHERE owner_id = ?`, ownerID,
	).Scan(&content, &groups, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingBroadcast{}, false, nil
	}
	if err != nil {
		return PendingBroadcast{}, false, err
	}
	p.OwnerID = ownerID
	p.Content = json.RawMessage(content)
	if err := json.Unmarshal([]byte(groups), &p.Groups); err != nil {
		return PendingBroadcast{}, false, err
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
	return p, true, nil
}

func (s *sqliteStore) DeletePending(ctx context.Context, ownerID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending WHERE owner_id = ?`, ownerID)
	return err
}

func (s *sqliteStore) AppendSent(ctx context.Context, m SentMessage) (int64, error) {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sent(owner_id, group_id, kind, content, caption, sent_at, message_id)
		 VALUES(?,?,?,?,?,?,?)`,
		m.OwnerID, m.GroupID, m.Kind, m.Content, nullStr(m.Caption),
		m.SentAt.Format(time.RFC3339Nano), m.MessageID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) LastSent(ctx context.Context, groupID int64) (SentMessage, bool, error) {
	var (
		m       SentMessage
		caption sql.NullString
		at      string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, group_id, kind, content, caption, sent_at, message_id
		 FROM sent WHERE group_id = ? ORDER BY sent_at DESC, id DESC LIMIT 1`, groupID,
	).Scan(&m.ID, &m.OwnerID, &m.GroupID, &m.Kind, &m.Content, &caption, &at, &m.MessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return SentMessage{}, false, nil
	}
	if err != nil {
		return SentMessage{}, false, err
	}
	m.Caption = caption.String
	m.SentAt, _ = time.Parse(time.RFC3339Nano, at)
	return m, true, nil
}

func (s *sqliteStore) DeleteSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sent WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) PruneSent(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sent WHERE sent_at < ?`, olderThan.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
