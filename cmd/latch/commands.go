package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoobzio/latch"
)

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print the stored value of a setting",
		Long: `Print the stored value of a setting.

With --kind other than string the value is parsed and printed in its
canonical form; a value that does not parse is an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			settings, kind, err := opts.settings(store, args[0])
			if err != nil {
				return err
			}
			raw, ok, err := store.Get(ctx, settings.StorageKey(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not set", args[0])
			}

			v, err := parseValue(kind, raw)
			if err != nil {
				return err
			}
			out, err := formatValue(kind, v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newSetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Write a setting",
		Long: `Write a setting.

The value is parsed with the codec for --kind before anything is written,
then stored in its canonical form.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			store, closeStore, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			settings, kind, err := opts.settings(store, name)
			if err != nil {
				return err
			}
			v, err := parseValue(kind, args[1])
			if err != nil {
				return err
			}
			return settings.Set(ctx, name, v)
		},
	}
}

func newRmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>...",
		Aliases: []string{"delete"},
		Short:   "Delete settings",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			for _, name := range args {
				settings, _, err := opts.settings(store, name)
				if err != nil {
					return err
				}
				if err := settings.Delete(ctx, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newLsCmd(opts *options) *cobra.Command {
	var values bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List settings under the prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, closeStore, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			lister, ok := store.(latch.Lister)
			if !ok {
				return errors.New("store cannot list keys")
			}
			keys, err := lister.Keys(ctx, opts.prefix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, key := range keys {
				name := strings.TrimPrefix(key, opts.prefix)
				if !values {
					fmt.Fprintln(out, name)
					continue
				}
				raw, _, err := store.Get(ctx, key)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s=%s\n", name, raw)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&values, "values", false, "print name=value pairs")
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print settings under the prefix as they change",
		Long: `Print settings under the prefix as they change, until interrupted.

Each change prints name=value, or "name deleted" when the key was removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			watcher, ok := store.(latch.Watcher)
			if !ok {
				return errors.New("store cannot be watched")
			}
			changes, err := watcher.Watch(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "watching for changes")

			return printChanges(ctx, cmd, store, opts.prefix, changes)
		},
	}
}

func printChanges(ctx context.Context, cmd *cobra.Command, store latch.Store, prefix string, changes <-chan string) error {
	out := cmd.OutOrStdout()
	for key := range changes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.TrimPrefix(key, prefix)
		raw, ok, err := store.Get(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to read %s: %v\n", key, err)
			continue
		}
		if !ok {
			fmt.Fprintf(out, "%s deleted\n", name)
			continue
		}
		fmt.Fprintf(out, "%s=%s\n", name, raw)
	}
	return nil
}
