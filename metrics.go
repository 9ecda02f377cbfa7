package latch

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on setting access.
type MetricsProvider interface {
	// OnRead is called after every read of a setting.
	OnRead(setting string)

	// OnWrite is called after a setting is written and listeners notified.
	// Duration covers encoding, the store write and notification.
	OnWrite(setting string, duration time.Duration)

	// OnDelete is called after a setting is deleted and listeners notified.
	OnDelete(setting string)

	// OnDecodeFallback is called when a stored value was malformed and the
	// default was used.
	OnDecodeFallback(setting string)

	// OnExternalChange is called when a watched store reports a change.
	OnExternalChange(setting string)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnRead(_ string)                   {}
func (NoOpMetricsProvider) OnWrite(_ string, _ time.Duration) {}
func (NoOpMetricsProvider) OnDelete(_ string)                 {}
func (NoOpMetricsProvider) OnDecodeFallback(_ string)         {}
func (NoOpMetricsProvider) OnExternalChange(_ string)         {}
