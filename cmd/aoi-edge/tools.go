package main

import (
	"aoi-edge/internal/planner"
	"aoi-edge/internal/report"
	"aoi-edge/internal/types"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the zigzag scan path for a board",
	Long: `Print the zigzag scan path for a board as JSON.

Examples:
  aoi-edge plan --width 80 --height 60
  aoi-edge plan --width 120 --height 90 --overlap 0.2 --offset-x 15 --offset-y 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		width, _ := cmd.Flags().GetFloat64("width")
		height, _ := cmd.Flags().GetFloat64("height")
		overlap, _ := cmd.Flags().GetFloat64("overlap")
		offX, _ := cmd.Flags().GetFloat64("offset-x")
		offY, _ := cmd.Flags().GetFloat64("offset-y")

		sc := types.ScanConfig{Width: width, Height: height, Overlap: overlap}
		if err := planner.Validate(sc, cfg.Scan.FOV, cfg.Scan.MaxPoints); err != nil {
			return err
		}
		path := planner.Plan(sc, cfg.Scan.FOV, types.Position{X: offX, Y: offY})

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(path)
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := report.NewStore(cfg.Data.HistoryDir, cliLogger())
		if err != nil {
			return err
		}
		runs, err := store.List()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tPART\tBATCH\tSTATUS\tPOINTS\tNG\tCOMPLETED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				r.RunID, r.Metadata.PartNo, r.Metadata.BatchNo, r.Status,
				r.Stats.Total, r.Stats.NG, r.CompletedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the report of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := report.NewStore(cfg.Data.HistoryDir, cliLogger())
		if err != nil {
			return err
		}
		rep, err := store.Get(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	planCmd.Flags().Float64("width", 0, "board width in mm")
	planCmd.Flags().Float64("height", 0, "board height in mm")
	planCmd.Flags().Float64("overlap", 0.1, "FOV overlap ratio in [0,1)")
	planCmd.Flags().Float64("offset-x", 0, "work offset X in mm")
	planCmd.Flags().Float64("offset-y", 0, "work offset Y in mm")

	historyCmd.AddCommand(historyListCmd, historyShowCmd)
}
