package etcd

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"
	"github.com/zoobzio/latch"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func setupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcetcd.Run(ctx, "gcr.io/etcd-development/etcd:v3.5.21")
	if err != nil {
		t.Fatalf("failed to start etcd container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ClientEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestStore_GetSetDelete(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := New(client)

	if _, ok, err := store.Get(ctx, "/settings/flag"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "/settings/flag", "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok, err := store.Get(ctx, "/settings/flag")
	if err != nil || !ok || v != "true" {
		t.Fatalf("expected 'true', got %q ok=%v err=%v", v, ok, err)
	}

	if err := store.Delete(ctx, "/settings/flag"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "/settings/flag"); ok {
		t.Error("expected key removed")
	}
}

func TestStore_EmptyValueIsPresent(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := New(client)
	_ = store.Set(ctx, "/settings/name", "")

	v, ok, err := store.Get(ctx, "/settings/name")
	if err != nil || !ok || v != "" {
		t.Errorf("expected present empty value, got %q ok=%v err=%v", v, ok, err)
	}
}

func TestStore_Keys(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := New(client)
	_ = store.Set(ctx, "/settings/b", "2")
	_ = store.Set(ctx, "/settings/a", "1")
	_ = store.Set(ctx, "/other", "3")

	keys, err := store.Keys(ctx, "/settings/")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"/settings/a", "/settings/b"}) {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestStore_WatchEmitsChangedKeys(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := New(client, WithWatchPrefix("/settings/"))
	ch, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if _, err := client.Put(ctx, "/other", "x"); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if _, err := client.Put(ctx, "/settings/limit", "5"); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if _, err := client.Delete(ctx, "/settings/limit"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case key := <-ch:
			if key != "/settings/limit" {
				t.Errorf("expected '/settings/limit', got %q", key)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestStore_WatchClosesOnContextCancel(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	store := New(client)
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
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := New(client, WithWatchPrefix("/settings/"))
	settings := latch.New(store, latch.Schema{"enabled": latch.Bool(true)}).Prefix("/settings/")

	received := make(chan bool, 2)
	settings.Subscriptions().Subscribe("enabled", func(_ any, set bool) { received <- set })

	if err := settings.Watch(ctx, store); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if _, err := client.Put(ctx, "/settings/enabled", "false"); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if _, err := client.Delete(ctx, "/settings/enabled"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	for _, want := range []bool{true, false} {
		select {
		case set := <-received:
			if set != want {
				t.Errorf("expected set=%v, got %v", want, set)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for external change")
		}
	}
}
