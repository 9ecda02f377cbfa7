// Package latch provides typed, observable settings persisted in a string
// key-value store.
//
// A Settings value declares a fixed set of named settings, each with a codec,
// a default and optional change callbacks. Reads decode the stored string,
// falling back to the default when nothing is stored or the stored value is
// malformed. Writes encode, store, then notify.
//
//	store value ← Encode ← Set ─→ callbacks ─→ Registry
//	store value → Decode → Get
//
// # Codecs
//
// Settings are declared with one of the built-in variants:
//
//   - Bool: "true" / "false"
//   - Number: float64 in ECMAScript notation
//   - BigInt: *big.Int as base-10 digits
//   - String: stored verbatim
//   - JSON: compact JSON via encoding/json
//   - YAML: YAML via gopkg.in/yaml.v3
//   - Custom: any Codec[T]
//
// Structured values are validated after decoding with go-playground/validator
// struct tags and, when implemented, the Validator interface. A value that
// fails validation is treated as malformed.
//
// # Subscriptions
//
// Every Settings owns a Registry. Listeners subscribe per setting name and are
// called in registration order after the store write has completed:
//
//	cancel := settings.Subscriptions().Subscribe("flag", func(v any, set bool) {
//	    log.Printf("flag is now %v (set=%v)", v, set)
//	})
//	defer cancel()
//
// # Stores
//
// Any type implementing Store can back a Settings. MemoryStore keeps values in
// process and also implements Watcher, so Settings sharing one MemoryStore see
// each other's writes. Persistent and networked stores live under pkg/, each
// in its own module:
//
//   - pkg/file: JSON or YAML file, watched with fsnotify
//   - pkg/sqlite: SQLite table via modernc.org/sqlite
//   - pkg/redis: Redis keys with keyspace notifications
//   - pkg/postgres: PostgreSQL table with LISTEN/NOTIFY
//   - pkg/etcd: etcd keys with the Watch API
//   - pkg/consul: Consul KV with blocking queries
//   - pkg/nats: NATS JetStream KV buckets
//   - pkg/zookeeper: ZooKeeper nodes
//   - pkg/kubernetes: ConfigMap or Secret data
//   - pkg/firestore: Firestore documents with realtime listeners
//   - pkg/keyring: the OS keychain, for secrets
//
// Stores that also implement Watcher can report writes made by other
// processes; pass them to Settings.Watch to have those changes delivered to
// callbacks and subscribers as well.
//
// # Observability
//
// latch emits capitan signals for writes, deletes, decode fallbacks and watch
// lifecycle. Hook them for logging or auditing:
//
//	capitan.Hook(latch.SettingDecodeFailed, func(_ context.Context, e *capitan.Event) {
//	    name, _ := latch.KeySetting.From(e)
//	    errMsg, _ := latch.KeyError.From(e)
//	    log.Printf("setting %s malformed: %s", name, errMsg)
//	})
package latch
