package integration

import (
	"testing"
	"time"

	"github.com/zoobzio/latch"
	latchtesting "github.com/zoobzio/latch/testing"
)

const settleTimeout = 5 * time.Second

// schema declares the settings shared by every process in these tests.
func schema() latch.Schema {
	return latch.Schema{
		"flag":  latch.Bool(false),
		"limit": latch.Number(10),
		"prefs": latch.JSON(latchtesting.DefaultPrefs),
	}
}

// process builds one participant: Settings over store with a listener
// recording every notification it receives.
func process(t *testing.T, store latch.Store, prefix string) (*latch.Settings, *latchtesting.RecordingListener) {
	t.Helper()
	s := latch.New(store, schema()).Prefix(prefix)

	rec := &latchtesting.RecordingListener{}
	listeners := make(map[string]latch.Listener)
	for _, name := range s.Names() {
		listeners[name] = rec.Listen(name)
	}
	t.Cleanup(s.Subscriptions().BatchSubscribe(listeners))
	return s, rec
}

// requireLast fails unless the most recent notification matches.
func requireLast(t *testing.T, rec *latchtesting.RecordingListener, want latchtesting.Notification) {
	t.Helper()
	ok := latchtesting.WaitFor(t, settleTimeout, func() bool {
		last, ok := rec.Last()
		return ok && last.Setting == want.Setting && last.Set == want.Set && last.Value == want.Value
	})
	if !ok {
		last, _ := rec.Last()
		t.Fatalf("expected last notification %+v, got %+v", want, last)
	}
}
