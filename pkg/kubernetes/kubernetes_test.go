package kubernetes

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/zoobzio/latch"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestWithResourceType_SetsResourceType(t *testing.T) {
	client := fake.NewSimpleClientset()

	store := New(client, "default", "settings")
	if store.resourceType != ConfigMap {
		t.Errorf("expected default ConfigMap, got %v", store.resourceType)
	}

	store = New(client, "default", "settings", WithResourceType(Secret))
	if store.resourceType != Secret {
		t.Errorf("expected Secret, got %v", store.resourceType)
	}
}

func TestStore_GetMissingResource(t *testing.T) {
	client := fake.NewSimpleClientset()
	store := New(client, "default", "settings")

	v, ok, err := store.Get(context.Background(), "setting.flag")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok || v != "" {
		t.Errorf("expected absent, got %q (%v)", v, ok)
	}
}

func TestStore_SetCreatesConfigMap(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	store := New(client, "default", "settings")

	if err := store.Set(ctx, "setting.flag", "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	cm, err := client.CoreV1().ConfigMaps("default").Get(ctx, "settings", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("expected ConfigMap to exist: %v", err)
	}
	if cm.Data["setting.flag"] != "true" {
		t.Errorf("unexpected data %v", cm.Data)
	}

	if err := store.Set(ctx, "setting.limit", "5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok, _ := store.Get(ctx, "setting.limit")
	if !ok || v != "5" {
		t.Errorf("expected '5', got %q (%v)", v, ok)
	}
}

func TestStore_Secret(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "credentials",
			Namespace: "default",
		},
		Data: map[string][]byte{
			"api.token": []byte("secret123"),
		},
	})
	store := New(client, "default", "credentials", WithResourceType(Secret))

	v, ok, err := store.Get(ctx, "api.token")
	if err != nil || !ok || v != "secret123" {
		t.Fatalf("expected 'secret123', got %q ok=%v err=%v", v, ok, err)
	}

	if err := store.Set(ctx, "api.token", "rotated"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	secret, _ := client.CoreV1().Secrets("default").Get(ctx, "credentials", metav1.GetOptions{})
	if string(secret.Data["api.token"]) != "rotated" {
		t.Errorf("unexpected secret data %v", secret.Data)
	}

	if err := store.Delete(ctx, "api.token"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "api.token"); ok {
		t.Error("expected key removed")
	}
}

func TestStore_DeleteMissing(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	store := New(client, "default", "settings")

	if err := store.Delete(ctx, "setting.flag"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	// No resource is created just to delete from it
	if _, err := client.CoreV1().ConfigMaps("default").Get(ctx, "settings", metav1.GetOptions{}); err == nil {
		t.Error("expected ConfigMap not to be created")
	}
}

func TestStore_Keys(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "settings", Namespace: "default"},
		Data: map[string]string{
			"setting.b": "2",
			"setting.a": "1",
			"other":     "3",
		},
	})
	store := New(client, "default", "settings")

	keys, err := store.Keys(ctx, "setting.")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"setting.a", "setting.b"}) {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestExtractData_WrongType(t *testing.T) {
	client := fake.NewSimpleClientset()

	// ConfigMap store given a Secret
	store := New(client, "default", "settings")
	if _, _, ok := store.extractData(&corev1.Secret{}); ok {
		t.Error("expected wrong type to be rejected")
	}

	// Secret store given a ConfigMap
	store = New(client, "default", "settings", WithResourceType(Secret))
	if _, _, ok := store.extractData(&corev1.ConfigMap{}); ok {
		t.Error("expected wrong type to be rejected")
	}

	if _, _, ok := store.extractData("not a k8s object"); ok {
		t.Error("expected invalid object to be rejected")
	}
}

func TestChangedKeys(t *testing.T) {
	prev := map[string]string{"a": "1", "b": "2", "c": "3"}
	next := map[string]string{"a": "1", "b": "5", "d": "6"}

	got := changedKeys(prev, next)
	if !reflect.DeepEqual(got, []string{"b", "c", "d"}) {
		t.Errorf("unexpected changed keys %v", got)
	}
}

func TestStore_WatchEmitsChangedKeys(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "settings", Namespace: "default"},
		Data:       map[string]string{"setting.a": "1", "setting.b": "2"},
	})
	store := New(client, "default", "settings")

	ch, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Another writer updates one key and removes another
	_, err = client.CoreV1().ConfigMaps("default").Update(ctx, &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "settings", Namespace: "default"},
		Data:       map[string]string{"setting.a": "10"},
	}, metav1.UpdateOptions{})
	if err != nil {
		t.Fatalf("failed to update ConfigMap: %v", err)
	}

	for _, want := range []string{"setting.a", "setting.b"} {
		select {
		case key := <-ch:
			if key != want {
				t.Errorf("expected %q, got %q", want, key)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestStore_WatchIgnoresOtherResources(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset()
	store := New(client, "default", "settings")

	ch, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	_, _ = client.CoreV1().ConfigMaps("default").Create(ctx, &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "unrelated", Namespace: "default"},
		Data:       map[string]string{"x": "1"},
	}, metav1.CreateOptions{})
	_ = store.Set(ctx, "setting.flag", "true")

	select {
	case key := <-ch:
		if key != "setting.flag" {
			t.Errorf("expected 'setting.flag', got %q", key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for change")
	}
}

func TestStore_WatchClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	client := fake.NewSimpleClientset()
	store := New(client, "default", "settings")

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
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestStore_WithSettings(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset()
	store := New(client, "default", "settings")
	settings := latch.New(store, latch.Schema{
		"replicas": latch.Number(1),
	}).Prefix("setting.")

	if err := settings.Set(ctx, "replicas", 3); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	received := make(chan any, 1)
	settings.Subscriptions().Subscribe("replicas", func(v any, _ bool) { received <- v })

	if err := settings.Watch(ctx, store); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// kubectl edit from another process
	_, err := client.CoreV1().ConfigMaps("default").Update(ctx, &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "settings", Namespace: "default"},
		Data:       map[string]string{"setting.replicas": "5"},
	}, metav1.UpdateOptions{})
	if err != nil {
		t.Fatalf("failed to update ConfigMap: %v", err)
	}

	select {
	case v := <-received:
		if v != float64(5) {
			t.Errorf("expected 5, got %v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for external change")
	}
}
