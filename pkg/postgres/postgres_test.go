package postgres

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zoobzio/latch"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
	})

	return pool
}

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	pool := setupPostgres(t)
	store := New(pool)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store, pool
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"setting:": "setting:",
		"50%":      `50\%`,
		"a_b":      `a\_b`,
		`c\d`:      `c\\d`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuoteLiteral(t *testing.T) {
	if got := quoteLiteral("it's"); got != "'it''s'" {
		t.Errorf("unexpected literal %s", got)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	store, _ := setupStore(t)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	store, _ := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, ok, err := store.Get(ctx, "setting:flag"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	_ = store.Set(ctx, "setting:flag", "false")
	if err := store.Set(ctx, "setting:flag", "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok, err := store.Get(ctx, "setting:flag")
	if err != nil || !ok || v != "true" {
		t.Fatalf("expected 'true', got %q ok=%v err=%v", v, ok, err)
	}

	if err := store.Delete(ctx, "setting:flag"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "setting:flag"); ok {
		t.Error("expected key removed")
	}
}

func TestStore_Keys(t *testing.T) {
	store, _ := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = store.Set(ctx, "app_b", "2")
	_ = store.Set(ctx, "app_a", "1")
	_ = store.Set(ctx, "appxc", "3") // would match an unescaped "_"

	keys, err := store.Keys(ctx, "app_")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"app_a", "app_b"}) {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestStore_WatchEmitsChangedKeys(t *testing.T) {
	store, pool := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Insert, update and delete from outside the store
	if _, err := pool.Exec(ctx, "INSERT INTO settings (key, value) VALUES ('limit', '1')"); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if _, err := pool.Exec(ctx, "UPDATE settings SET value = '2' WHERE key = 'limit'"); err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM settings WHERE key = 'limit'"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case key := <-ch:
			if key != "limit" {
				t.Errorf("expected 'limit', got %q", key)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for notification %d", i)
		}
	}
}

func TestStore_WatchClosesOnContextCancel(t *testing.T) {
	store, _ := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	ch, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestStore_WithSettings(t *testing.T) {
	store, pool := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	settings := latch.New(store, latch.Schema{"theme": latch.String("light")}).Prefix("ui.")

	received := make(chan any, 2)
	settings.Subscriptions().Subscribe("theme", func(v any, _ bool) { received <- v })

	if err := settings.Watch(ctx, store); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if _, err := pool.Exec(ctx, "INSERT INTO settings (key, value) VALUES ('ui.theme', 'dark')"); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	select {
	case v := <-received:
		if v != "dark" {
			t.Errorf("expected 'dark', got %v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for external change")
	}
}
