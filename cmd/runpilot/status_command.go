package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"runpilot/internal/runfolder"
	"runpilot/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [search-dir]",
		Short: "List run folders and their workflow stage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			searchDir := cfg.Paths.SearchDir
			if len(args) == 1 {
				searchDir = args[0]
			}
			if searchDir == "" {
				return fmt.Errorf("no search directory given and paths.search_dir not configured")
			}

			candidates, err := workflow.ListCandidates(searchDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(candidates) == 0 {
				fmt.Fprintf(out, "No run folders under %s\n", searchDir)
				return nil
			}
			fmt.Fprintln(out, renderStatusTable(candidates))
			return nil
		},
	}
}

func renderStatusTable(candidates []workflow.Candidate) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Run Folder", "Stage", "Completed", "Lock PID"})

	for _, c := range candidates {
		completed := ""
		if !c.CompletedAt.IsZero() {
			completed = c.CompletedAt.Format(time.DateTime)
		}
		owner := ""
		if c.Stage == runfolder.Locked && c.LockOwner > 0 {
			owner = strconv.Itoa(c.LockOwner)
		}
		tw.AppendRow(table.Row{c.Name, c.Stage.String(), completed, owner})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
