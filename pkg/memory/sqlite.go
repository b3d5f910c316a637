package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cpunion/cast-bot/pkg/types"
)

// Applied on every pooled connection through the DSN.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "memories",
		sql: `
CREATE TABLE IF NOT EXISTS memories (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    room_id     TEXT NOT NULL,
    user_id     TEXT NOT NULL,
    agent_id    TEXT NOT NULL,
    post_id     TEXT,
    text        TEXT NOT NULL,
    in_reply_to TEXT,
    action      TEXT,
    source      TEXT,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_room    ON memories(room_id, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_memories_agent   ON memories(agent_id, created_at DESC);
`,
	},
}

// SQLiteStore is a Store backed by a SQLite database file. The primary key
// on id makes Create atomic across processes sharing the file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and applies pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	database, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}

	database.SetMaxOpenConns(4)
	database.SetMaxIdleConns(2)
	database.SetConnMaxIdleTime(30 * time.Minute)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := applyMigrations(database); err != nil {
		_ = database.Close()
		return nil, err
	}
	return &SQLiteStore{db: database}, nil
}

func applyMigrations(database *sql.DB) error {
	if _, err := database.Exec(`
CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	applied_at  TEXT NOT NULL
);`); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := database.QueryRow(
			"SELECT COUNT(1) FROM schema_version WHERE version = ?", m.version,
		).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if err := applyMigration(database, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func applyMigration(database *sql.DB, m migration) error {
	tx, err := database.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, datetime('now'))",
		m.version, m.name,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByID returns the record or nil.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*types.MemoryRecord, error) {
	var (
		rec                          types.MemoryRecord
		kind, created                string
		postID, inReply, act, source sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, kind, room_id, user_id, agent_id, post_id, text, in_reply_to, action, source, created_at
FROM memories
WHERE id = ?`, id).
		Scan(&rec.ID, &kind, &rec.RoomID, &rec.UserID, &rec.AgentID, &postID,
			&rec.Content.Text, &inReply, &act, &source, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get memory %s: %w", id, err)
	}

	rec.Kind = types.RecordKind(kind)
	rec.PostID = postID.String
	rec.Content.InReplyTo = inReply.String
	rec.Content.Action = act.String
	rec.Content.Source = source.String
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

// Create inserts rec, returning ErrExists if the id is taken.
func (s *SQLiteStore) Create(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("memory record id is required")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO memories (id, kind, room_id, user_id, agent_id, post_id, text, in_reply_to, action, source, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		rec.ID, string(rec.Kind), rec.RoomID, rec.UserID, rec.AgentID,
		nullString(rec.PostID), rec.Content.Text, nullString(rec.Content.InReplyTo),
		nullString(rec.Content.Action), nullString(rec.Content.Source),
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
