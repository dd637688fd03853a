package main

import "github.com/spf13/cobra"

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "reviewctl",
		Short:         "Inspect camera review timelines offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newHoursCommand())
	rootCmd.AddCommand(newCardsCommand())
	rootCmd.AddCommand(newScrubberCommand())
	rootCmd.AddCommand(newResolveCommand())

	return rootCmd
}
