package latch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Watch consumes change notifications from w and forwards changes made
// outside this process to the affected setting's callbacks and subscribers.
// Keys outside the prefix or naming undeclared settings are ignored.
//
// Watch returns once the watcher is running; changes are processed in a
// background goroutine until ctx is canceled or the watcher's channel
// closes. Only one Watch may run per Settings at a time.
func (s *Settings) Watch(ctx context.Context, w Watcher) error {
	if !s.watching.CompareAndSwap(false, true) {
		return ErrAlreadyWatching
	}

	keys, err := w.Watch(ctx)
	if err != nil {
		s.watching.Store(false)
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	capitan.Emit(ctx, WatchStarted,
		KeyDebounce.Field(s.debounce),
	)

	go s.watch(ctx, keys)
	return nil
}

// Watching reports whether a Watch loop is running.
func (s *Settings) Watching() bool {
	return s.watching.Load()
}

// watch processes changed keys, coalescing repeats within the debounce window.
func (s *Settings) watch(ctx context.Context, keys <-chan string) {
	defer func() {
		s.watching.Store(false)
		capitan.Emit(ctx, WatchStopped)
	}()

	var (
		timer   clockz.Timer
		pending []string
		seen    = make(map[string]struct{})
	)

	flush := func() {
		for _, key := range pending {
			s.refresh(ctx, key)
		}
		pending = pending[:0]
		clear(seen)
	}

	for {
		// Get timer channel or nil if no timer
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case key, ok := <-keys:
			if !ok {
				// Channel closed, process any pending changes
				flush()
				return
			}

			if s.debounce <= 0 {
				s.refresh(ctx, key)
				continue
			}

			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				pending = append(pending, key)
			}

			// Reset or start debounce timer
			if timer == nil {
				timer = s.clock.NewTimer(s.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(s.debounce)
			}

		case <-timerC:
			flush()
		}
	}
}

// refresh re-reads a changed storage key and notifies as if it were written
// through Set or Delete.
func (s *Settings) refresh(ctx context.Context, key string) {
	name, ok := strings.CutPrefix(key, s.prefix)
	if !ok {
		return
	}
	b, ok := s.settings[name]
	if !ok {
		return
	}

	raw, present, err := s.store.Get(ctx, key)
	if err != nil {
		capitan.Emit(ctx, WatchReadFailed,
			KeySetting.Field(name),
			KeyStorageKey.Field(key),
			KeyError.Field(err.Error()),
		)
		return
	}

	v, derr := b.decodeAny(raw, present)
	s.observeRead(ctx, b, derr)

	b.changeAny(v, present)
	s.subs.Notify(name, v, present)

	capitan.Emit(ctx, SettingExternalChanged,
		KeySetting.Field(name),
		KeyStorageKey.Field(key),
	)
	if s.metrics != nil {
		s.metrics.OnExternalChange(name)
	}
}
