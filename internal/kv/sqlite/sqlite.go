// Package sqlite implements kv.Store on a local SQLite file. The same store
// backs the sync endpoint and the client's local cache; the client side
// additionally uses the outbox table as its pending-push queue.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mealtrack/internal/kv"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ kv.Store = (*Store)(nil)

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM bundles WHERE user_id = ?`, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select bundle: %v", kv.ErrUnavailable, err)
	}
	return payload, nil
}

func (s *Store) Put(ctx context.Context, userID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bundles (user_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		userID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: upsert bundle: %v", kv.ErrUnavailable, err)
	}
	slog.DebugContext(ctx, "Bundle stored", "user_id", userID, "bytes", len(payload))
	return nil
}

func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: select meta: %v", kv.ErrUnavailable, err)
	}
	return value, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("%w: upsert meta: %v", kv.ErrUnavailable, err)
	}
	return nil
}

// PendingPush is one outbox entry: a user whose local bundle is newer than
// the last successful remote push.
type PendingPush struct {
	UserID   string
	Attempts int
}

// MarkDirty records that userID's local bundle changed and needs a remote
// push. Re-marking an already-dirty user resets its attempt counter, since
// the next push will carry the newest bundle anyway.
func (s *Store) MarkDirty(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (user_id, status, attempts, last_error, dirty_since)
		 VALUES (?, 'pending', 0, '', ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   status = 'pending', attempts = 0, last_error = '', dirty_since = excluded.dirty_since`,
		userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: mark dirty: %v", kv.ErrUnavailable, err)
	}
	return nil
}

// PendingPushes returns up to limit users awaiting a push, oldest first.
func (s *Store) PendingPushes(ctx context.Context, limit int) ([]PendingPush, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, attempts FROM outbox
		 WHERE status = 'pending' ORDER BY dirty_since LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: select outbox: %v", kv.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []PendingPush
	for rows.Next() {
		var p PendingPush
		if err := rows.Scan(&p.UserID, &p.Attempts); err != nil {
			return nil, fmt.Errorf("%w: scan outbox row: %v", kv.ErrUnavailable, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate outbox: %v", kv.ErrUnavailable, err)
	}
	return out, nil
}

// MarkPushed clears userID from the outbox after a successful push.
func (s *Store) MarkPushed(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("%w: clear outbox: %v", kv.ErrUnavailable, err)
	}
	return nil
}

// MarkPushError bumps the attempt counter and records the error. Once
// maxAttempts is reached the entry moves to 'failed' and stays visible until
// the next local write re-marks it dirty.
func (s *Store) MarkPushError(ctx context.Context, userID string, maxAttempts int, pushErr error) error {
	msg := ""
	if pushErr != nil {
		msg = pushErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET
		   attempts = attempts + 1,
		   last_error = ?,
		   status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END
		 WHERE user_id = ?`,
		msg, maxAttempts, userID)
	if err != nil {
		return fmt.Errorf("%w: record push error: %v", kv.ErrUnavailable, err)
	}
	return nil
}

// FailedPushes lists users whose pushes exhausted their attempts.
func (s *Store) FailedPushes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM outbox WHERE status = 'failed' ORDER BY dirty_since`)
	if err != nil {
		return nil, fmt.Errorf("%w: select failed pushes: %v", kv.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("%w: scan failed push: %v", kv.ErrUnavailable, err)
		}
		out = append(out, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate failed pushes: %v", kv.ErrUnavailable, err)
	}
	return out, nil
}
