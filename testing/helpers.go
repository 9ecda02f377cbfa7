// Package testing provides test utilities and helpers for latch settings.
package testing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/latch"
)

// TestPrefs is a standard structured setting value for tests.
// It implements latch.Validator with configurable validation behavior.
type TestPrefs struct {
	Port    int    `yaml:"port" json:"port"`
	Host    string `yaml:"host" json:"host"`
	Timeout int    `yaml:"timeout" json:"timeout"`
}

// Validate implements latch.Validator.
func (p TestPrefs) Validate() error {
	if p.Port < 1 || p.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if p.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// DefaultPrefs is the declared default for the "prefs" setting of
// NewTestSettings.
var DefaultPrefs = TestPrefs{Port: 8080, Host: "localhost", Timeout: 30}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Notification is one call received by a RecordingListener.
type Notification struct {
	Setting string
	Value   any
	Set     bool
}

// RecordingListener collects registry notifications for assertions.
type RecordingListener struct {
	mu     sync.Mutex
	events []Notification
}

// Listen returns a latch.Listener that records notifications under setting.
func (r *RecordingListener) Listen(setting string) latch.Listener {
	return func(value any, set bool) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, Notification{Setting: setting, Value: value, Set: set})
	}
}

// Events returns a copy of the recorded notifications in arrival order.
func (r *RecordingListener) Events() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded notifications.
func (r *RecordingListener) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Last returns the most recent notification.
func (r *RecordingListener) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Notification{}, false
	}
	return r.events[len(r.events)-1], true
}

// WaitForEvents waits until at least n notifications were recorded.
func (r *RecordingListener) WaitForEvents(t *testing.T, n int, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return r.Len() >= n
	})
}

// RequireValue fails the test immediately if the setting does not read as expected.
func RequireValue(t *testing.T, s *latch.Settings, name string, expected any) {
	t.Helper()
	got, err := s.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", name, err)
	}
	if got != expected {
		t.Fatalf("expected %s = %v, got %v", name, expected, got)
	}
}

// NewTestSettings creates Settings over a MemoryStore with one setting of
// each scalar variant plus a structured "prefs" setting, and subscribes a
// RecordingListener to all of them.
func NewTestSettings(t *testing.T) (*latch.Settings, *latch.MemoryStore, *RecordingListener) {
	t.Helper()
	store := latch.NewMemoryStore()
	s := latch.New(store, latch.Schema{
		"flag":  latch.Bool(false),
		"limit": latch.Number(10),
		"name":  latch.String(""),
		"prefs": latch.JSON(DefaultPrefs),
	}).Prefix("test:")

	rec := &RecordingListener{}
	listeners := make(map[string]latch.Listener)
	for _, name := range s.Names() {
		listeners[name] = rec.Listen(name)
	}
	cancel := s.Subscriptions().BatchSubscribe(listeners)
	t.Cleanup(cancel)

	return s, store, rec
}
