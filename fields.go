package latch

import "github.com/zoobzio/capitan"

// Field keys for latch events.
var (
	// KeySetting is the declared name of the setting.
	KeySetting = capitan.NewStringKey("setting")

	// KeyStorageKey is the prefixed key used in the store.
	KeyStorageKey = capitan.NewStringKey("storage_key")

	// KeyKind is the codec variant of the setting.
	KeyKind = capitan.NewStringKey("kind")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDebounce is the configured watch debounce duration.
	KeyDebounce = capitan.NewDurationKey("debounce")

	// KeySubscriptions is the number of subscriptions affected.
	KeySubscriptions = capitan.NewIntKey("subscriptions")
)
