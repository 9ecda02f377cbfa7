package latch

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/zoobzio/capitan"
)

// Listener receives the new value of a setting. set is false when the
// setting was deleted, in which case value is the setting's default.
type Listener func(value any, set bool)

// Cancel removes the subscription it was returned for. Calling it more than
// once is a no-op.
type Cancel func()

type subscription struct {
	id      uint64
	setting string
	fn      Listener
	live    bool
}

// Registry maps subscriptions to setting names and fans out notifications in
// registration order. It is safe for concurrent use; listeners are invoked
// without the registry lock held, so they may subscribe or cancel freely.
type Registry struct {
	mu     sync.Mutex
	subs   []*subscription
	nextID uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe registers fn for changes to setting and returns its Cancel.
func (r *Registry) Subscribe(setting string, fn Listener) Cancel {
	r.mu.Lock()
	sub := &subscription{
		id:      r.nextID,
		setting: setting,
		fn:      fn,
		live:    true,
	}
	r.nextID++
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	return func() { r.remove(sub) }
}

// BatchSubscribe registers one subscription per entry, in name order, and
// returns a Cancel that removes all of them.
func (r *Registry) BatchSubscribe(listeners map[string]Listener) Cancel {
	names := make([]string, 0, len(listeners))
	for name := range listeners {
		names = append(names, name)
	}
	sort.Strings(names)

	cancels := make([]Cancel, 0, len(names))
	for _, name := range names {
		cancels = append(cancels, r.Subscribe(name, listeners[name]))
	}

	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// Notify invokes every live listener registered for setting, in
// registration order. A listener cancelled by an earlier listener during the
// same call is skipped. Panics from listeners are not recovered.
func (r *Registry) Notify(setting string, value any, set bool) {
	r.mu.Lock()
	var targets []*subscription
	for _, sub := range r.subs {
		if sub.setting == setting {
			targets = append(targets, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range targets {
		if r.isLive(sub) {
			sub.fn(value, set)
		}
	}
}

// Clear removes every subscription and restarts id assignment at zero.
// No listener is invoked. Cancels issued before Clear become no-ops.
func (r *Registry) Clear() {
	r.mu.Lock()
	n := len(r.subs)
	for _, sub := range r.subs {
		sub.live = false
	}
	r.subs = nil
	r.nextID = 0
	r.mu.Unlock()

	capitan.Emit(context.Background(), SubscriptionsCleared,
		KeySubscriptions.Field(n),
	)
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Registry) remove(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !sub.live {
		return
	}
	sub.live = false
	r.subs = slices.DeleteFunc(r.subs, func(s *subscription) bool { return s == sub })
}

func (r *Registry) isLive(sub *subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sub.live
}
