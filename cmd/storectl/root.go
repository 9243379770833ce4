package main

import (
	"github.com/dogmatiq/storekit/internal/config"
	"github.com/dogmatiq/storekit/store"
	"github.com/spf13/cobra"
)

// app holds the state shared by all storectl commands.
type app struct {
	ConfigFile string
	Database   string
	Collection string

	// Config, if non-nil, is used instead of loading ConfigFile.
	Config *config.Config

	tracker *store.Tracker
	close   func() error
}

func newRootCommand() *cobra.Command {
	return newRootCommandWithApp(&app{})
}

func newRootCommandWithApp(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "storectl",
		Short:         "Inspect and modify storekit databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	root.PersistentFlags().StringVar(&a.ConfigFile, "config", "", "path to a YAML configuration file")
	root.PersistentFlags().StringVarP(&a.Database, "database", "d", "", "database name")
	root.PersistentFlags().StringVarP(&a.Collection, "collection", "c", "", "collection name")

	root.AddCommand(
		newVersionCommand(a),
		newCollectionsCommand(a),
		newKeysCommand(a),
		newGetCommand(a),
		newPutCommand(a),
		newDeleteCommand(a),
		newClearCommand(a),
	)

	return root
}
