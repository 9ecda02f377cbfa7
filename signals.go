package latch

import "github.com/zoobzio/capitan"

// Setting mutation signals.
var (
	// SettingChanged is emitted after a setting is written and its
	// listeners have been notified.
	SettingChanged = capitan.NewSignal(
		"latch.setting.changed",
		"Setting written",
	)

	// SettingDeleted is emitted after a setting is removed from the store
	// and its listeners have been notified.
	SettingDeleted = capitan.NewSignal(
		"latch.setting.deleted",
		"Setting deleted",
	)

	// SettingDecodeFailed is emitted when a stored value could not be parsed
	// and the default was returned instead.
	SettingDecodeFailed = capitan.NewSignal(
		"latch.setting.decode.failed",
		"Stored value malformed, default used",
	)

	// SettingEncodeFailed is emitted when a value could not be serialized.
	SettingEncodeFailed = capitan.NewSignal(
		"latch.setting.encode.failed",
		"Value could not be encoded",
	)

	// SettingExternalChanged is emitted when a watched store reports a
	// change made outside this process.
	SettingExternalChanged = capitan.NewSignal(
		"latch.setting.external.changed",
		"Setting changed in store",
	)
)

// Watch lifecycle signals.
var (
	// WatchStarted is emitted when Settings begins consuming store changes.
	WatchStarted = capitan.NewSignal(
		"latch.watch.started",
		"Store watching started",
	)

	// WatchStopped is emitted when Settings stops consuming store changes.
	WatchStopped = capitan.NewSignal(
		"latch.watch.stopped",
		"Store watching stopped",
	)

	// WatchReadFailed is emitted when a changed key could not be read back.
	WatchReadFailed = capitan.NewSignal(
		"latch.watch.read.failed",
		"Changed key could not be read",
	)
)

// Registry signals.
var (
	// SubscriptionsCleared is emitted when a Registry is cleared.
	SubscriptionsCleared = capitan.NewSignal(
		"latch.subscriptions.cleared",
		"All subscriptions removed",
	)
)
