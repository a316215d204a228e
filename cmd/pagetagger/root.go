package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var settingsFlag string
	var storeFlag string

	ctx := newCommandContext(&settingsFlag, &storeFlag)

	rootCmd := &cobra.Command{
		Use:           "pagetagger",
		Short:         "Annotate the pages of scanned books",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx.setupLogging(cmd.ErrOrStderr())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&settingsFlag, "settings", "s", "", "Settings file path (default $PAGETAGGER_SETTINGS or settings.json)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Annotation store: csv or sqlite (default $PAGETAGGER_STORE or csv)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newHashPasswordCommand(ctx))

	return rootCmd
}
