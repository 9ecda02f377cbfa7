package latch

import "errors"

var (
	// ErrUnknownSetting is returned when a name was not declared in the Schema.
	ErrUnknownSetting = errors.New("latch: unknown setting")

	// ErrTypeMismatch is returned when a value or Key does not match the
	// declared type of a setting.
	ErrTypeMismatch = errors.New("latch: type mismatch")

	// ErrAlreadyWatching is returned when Watch is called while a previous
	// watch on the same Settings is still running.
	ErrAlreadyWatching = errors.New("latch: already watching")
)
