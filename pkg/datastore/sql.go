// Package datastore provides the SQLite-backed chat journal.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/pixelsync/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLStore is a DataStore backed by a SQLite database file.
type SQLStore struct {
	DB  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(dbPath string) (*SQLStore, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQLStore{DB: DB, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.DB.Close()
}

func (s *SQLStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS chat_lines (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id     TEXT    NOT NULL DEFAULT '',
		sender_id   TEXT    NOT NULL DEFAULT '',
		sender_name TEXT    NOT NULL DEFAULT '',
		body        TEXT    NOT NULL CHECK(length(body) > 0),
		sent_at     TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_chat_lines_room ON chat_lines (room_id, id)",
				"CREATE INDEX IF NOT EXISTS idx_chat_lines_sender ON chat_lines (sender_id, id)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *SQLStore) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Chat ----

func (s *SQLStore) AppendChat(line *model.ChatLine) error {
	if err := line.Validate(); err != nil {
		return fmt.Errorf("datastore: chat line failed validation: %w", err)
	}
	if line.SentAt.IsZero() {
		line.SentAt = s.now()
	}
	line.SentAt = line.SentAt.UTC().Truncate(time.Second)

	res, err := s.DB.ExecContext(
		context.Background(),
		"INSERT INTO chat_lines (room_id, sender_id, sender_name, body, sent_at) VALUES (?, ?, ?, ?, ?)",
		line.RoomID, line.SenderID, line.SenderName, line.Body, formatDBTime(line.SentAt))
	if err != nil {
		return fmt.Errorf("datastore: append chat: %w", err)
	}
	line.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLStore) ListChat(filters model.ChatFilters) ([]model.ChatLine, error) {
	query := `
		SELECT id, room_id, sender_id, sender_name, body, sent_at
		FROM chat_lines
		WHERE (? IS NULL OR room_id = ?)
		AND (? IS NULL OR sender_id = ?)
		ORDER BY id DESC
		LIMIT COALESCE(?, 100)
		OFFSET COALESCE(?, 0)
	`

	rows, err := s.DB.QueryContext(
		context.Background(),
		query,
		filters.LimitToRoomID, filters.LimitToRoomID,
		filters.LimitToSenderID, filters.LimitToSenderID,
		filters.PageSize,
		filters.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("datastore: list chat: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []model.ChatLine
	for rows.Next() {
		var l model.ChatLine
		var sentAt string
		if err := rows.Scan(&l.ID, &l.RoomID, &l.SenderID, &l.SenderName, &l.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("datastore: scan chat line: %w", err)
		}
		parsed, err := parseDBTime(sentAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan chat line: %w", err)
		}
		l.SentAt = parsed
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *SQLStore) CountChat() (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM chat_lines").Scan(&n); err != nil {
		return 0, fmt.Errorf("datastore: count chat: %w", err)
	}
	return n, nil
}

func (s *SQLStore) PruneChat(keep int64) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.DB.ExecContext(context.Background(), `
		DELETE FROM chat_lines
		WHERE id <= (SELECT id FROM chat_lines ORDER BY id DESC LIMIT 1 OFFSET ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("datastore: prune chat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
