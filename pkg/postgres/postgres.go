// Package postgres provides a latch.Store backed by a PostgreSQL table.
// The store also implements latch.Watcher using LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps settings as rows of a key/value table.
//
// Watch requires a trigger on the table that sends the changed key as the
// notification payload. Migrate creates both the table and the trigger:
//
//	CREATE OR REPLACE FUNCTION settings_notify() RETURNS trigger AS $$
//	BEGIN
//	    PERFORM pg_notify('settings_changed', COALESCE(NEW.key, OLD.key));
//	    RETURN NULL;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER settings_notify
//	    AFTER INSERT OR UPDATE OR DELETE ON settings
//	    FOR EACH ROW EXECUTE FUNCTION settings_notify();
type Store struct {
	pool    *pgxpool.Pool
	table   string
	channel string
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the table name.
// Defaults to "settings".
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// WithChannel sets the notification channel used by Watch.
// Defaults to "settings_changed".
func WithChannel(channel string) Option {
	return func(s *Store) {
		s.channel = channel
	}
}

// New creates a Store on the given pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:    pool,
		table:   "settings",
		channel: "settings_changed",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the table and the notify trigger if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	table := pgx.Identifier{s.table}.Sanitize()
	fn := pgx.Identifier{s.table + "_notify"}.Sanitize()

	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE OR REPLACE FUNCTION %[2]s() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify(%[3]s, COALESCE(NEW.key, OLD.key));
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS %[2]s ON %[1]s;
		CREATE TRIGGER %[2]s
			AFTER INSERT OR UPDATE OR DELETE ON %[1]s
			FOR EACH ROW EXECUTE FUNCTION %[2]s();
	`, table, fn, quoteLiteral(s.channel))

	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to migrate table %s: %w", s.table, err)
	}
	return nil
}

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", pgx.Identifier{s.table}.Sanitize())
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value at key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		pgx.Identifier{s.table}.Sanitize(),
	)
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes the row for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", pgx.Identifier{s.table}.Sanitize())
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys beginning with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT key FROM %s WHERE key LIKE $1 ESCAPE '\' ORDER BY key`,
		pgx.Identifier{s.table}.Sanitize(),
	)
	rows, err := s.pool.Query(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Watch listens on the notification channel and returns a channel that
// emits each changed key.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	// Start listening
	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", s.channel, err)
	}

	out := make(chan string)

	go func() {
		defer close(out)
		defer conn.Release()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			select {
			case out <- notification.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
