package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/zoobzio/capitan"

	"github.com/zoobzio/latch"
	filestore "github.com/zoobzio/latch/pkg/file"
	redisstore "github.com/zoobzio/latch/pkg/redis"
	sqlitestore "github.com/zoobzio/latch/pkg/sqlite"
)

var errNoStore = errors.New("no store selected: use --file, --sqlite or --redis")

// options holds the persistent flags shared by every subcommand.
type options struct {
	file    string
	sqlite  string
	redis   string
	prefix  string
	kind    string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "latch",
		Short: "Inspect and edit settings in a key-value store",
		Long: `latch reads and writes settings the same way the latch package does.

Exactly one store must be selected. Flags fall back to the LATCH_FILE,
LATCH_SQLITE, LATCH_REDIS and LATCH_PREFIX environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := latch.ParseKind(opts.kind); !ok {
				return fmt.Errorf("unknown kind %q", opts.kind)
			}
			if opts.verbose {
				hookSignals(cmd.ErrOrStderr())
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.file, "file", os.Getenv("LATCH_FILE"), "JSON or YAML settings file")
	flags.StringVar(&opts.sqlite, "sqlite", os.Getenv("LATCH_SQLITE"), "SQLite database path")
	flags.StringVar(&opts.redis, "redis", os.Getenv("LATCH_REDIS"), "Redis URL, e.g. redis://localhost:6379/0")
	flags.StringVar(&opts.prefix, "prefix", os.Getenv("LATCH_PREFIX"), "prefix prepended to setting names")
	flags.StringVar(&opts.kind, "kind", latch.KindString.String(), "value kind: bool, number, bigint, string, json or yaml")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print latch events to stderr")

	root.AddCommand(
		newGetCmd(opts),
		newSetCmd(opts),
		newRmCmd(opts),
		newLsCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// open connects to the selected store. The returned func releases it.
func (o *options) open(ctx context.Context) (latch.Store, func() error, error) {
	selected := 0
	for _, v := range []string{o.file, o.sqlite, o.redis} {
		if v != "" {
			selected++
		}
	}
	switch {
	case selected == 0:
		return nil, nil, errNoStore
	case selected > 1:
		return nil, nil, errors.New("only one of --file, --sqlite or --redis may be set")
	}

	noop := func() error { return nil }

	switch {
	case o.file != "":
		return filestore.New(o.file), noop, nil

	case o.sqlite != "":
		store, err := sqlitestore.Open(o.sqlite)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		opt, err := goredis.ParseURL(o.redis)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := goredis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store := redisstore.New(client,
			redisstore.WithDB(opt.DB),
			redisstore.WithWatchPrefix(o.prefix),
		)
		return store, client.Close, nil
	}
}

// settings returns a Settings exposing name with the selected kind.
func (o *options) settings(store latch.Store, name string) (*latch.Settings, latch.Kind, error) {
	kind, _ := latch.ParseKind(o.kind)
	def, err := definitionFor(kind)
	if err != nil {
		return nil, kind, err
	}
	return latch.New(store, latch.Schema{name: def}).Prefix(o.prefix), kind, nil
}

// hookSignals prints every latch event to w.
func hookSignals(w io.Writer) {
	hooks := []struct {
		signal capitan.Signal
		label  string
	}{
		{latch.SettingChanged, "changed"},
		{latch.SettingDeleted, "deleted"},
		{latch.SettingDecodeFailed, "decode failed"},
		{latch.SettingEncodeFailed, "encode failed"},
		{latch.SettingExternalChanged, "external change"},
		{latch.WatchStarted, "watch started"},
		{latch.WatchStopped, "watch stopped"},
		{latch.WatchReadFailed, "watch read failed"},
	}

	for _, h := range hooks {
		label := h.label
		capitan.Hook(h.signal, func(_ context.Context, e *capitan.Event) {
			line := "[latch] " + label
			if name, ok := latch.KeySetting.From(e); ok {
				line += " setting=" + name
			}
			if key, ok := latch.KeyStorageKey.From(e); ok {
				line += " key=" + key
			}
			if kind, ok := latch.KeyKind.From(e); ok {
				line += " kind=" + kind
			}
			if msg, ok := latch.KeyError.From(e); ok {
				line += " error=" + msg
			}
			fmt.Fprintln(w, line)
		})
	}
}
