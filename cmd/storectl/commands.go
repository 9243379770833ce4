package main

import (
	"errors"
	"fmt"

	"github.com/dogmatiq/storekit/store"
	"github.com/spf13/cobra"
)

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current version of a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireDatabase(); err != nil {
				return err
			}

			if err := a.tracker.Probe(cmd.Context(), a.Database); err != nil {
				return err
			}

			v, _ := a.tracker.Version(a.Database)
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newCollectionsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the collections in a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireDatabase(); err != nil {
				return err
			}

			names, err := a.tracker.Collections(cmd.Context(), a.Database)
			if err != nil {
				return err
			}

			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newKeysCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the keys in a collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.handle()
			if err != nil {
				return err
			}

			keys, err := h.Keys(cmd.Context())
			if err != nil {
				return err
			}

			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), string(k))
			}
			return nil
		},
	}
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value associated with a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.handle()
			if err != nil {
				return err
			}

			v, ok, err := h.Get(cmd.Context(), []byte(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key %q not found in %s/%s", args[0], a.Database, a.Collection)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return nil
		},
	}
}

func newPutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Associate a value with a key, creating the collection if necessary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.handle()
			if err != nil {
				return err
			}

			_, err = h.Save(cmd.Context(), []byte(args[0]), []byte(args[1]))
			return err
		},
	}
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key from a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.handle()
			if err != nil {
				return err
			}

			return h.Delete(cmd.Context(), []byte(args[0]))
		},
	}
}

func newClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all keys from a collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.handle()
			if err != nil {
				return err
			}

			return h.Clear(cmd.Context())
		},
	}
}

func (a *app) requireDatabase() error {
	if a.Database == "" {
		return errors.New("--database is required")
	}
	return nil
}

func (a *app) handle() (*store.Handle, error) {
	if err := a.requireDatabase(); err != nil {
		return nil, err
	}

	if a.Collection == "" {
		return nil, errors.New("--collection is required")
	}

	return a.tracker.Handle(a.Database, a.Collection), nil
}
