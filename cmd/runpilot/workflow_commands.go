package main

import (
	"github.com/spf13/cobra"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [search-dir]",
		Short: "Find the first eligible run folder and process it",
		Long: `Scan enumerates the search directory, picks the first run folder that is
neither complete nor locked, and runs the analysis workflow on it. At most
one folder is processed per invocation; scheduled re-invocations pick up
the rest. Finding no candidate is a normal outcome.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, _, err := ctx.newDriver()
			if err != nil {
				return err
			}
			var searchDir string
			if len(args) == 1 {
				searchDir = args[0]
			}
			return driver.Scan(cmd.Context(), searchDir)
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <run-folder>",
		Short: "Process one specific run folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, _, err := ctx.newDriver()
			if err != nil {
				return err
			}
			return driver.Run(cmd.Context(), args[0])
		},
	}
}

func newDeliverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <run-folder>",
		Short: "Copy project output to each owner's storage",
		Long: `Deliver copies every Project_<account> directory inside the run folder to
the owner's storage directory, preserving permissions and ownership.
Projects succeed or fail independently; each outcome is reported on its
own.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, _, err := ctx.newDriver()
			if err != nil {
				return err
			}
			return driver.Deliver(cmd.Context(), args[0])
		},
	}
}
