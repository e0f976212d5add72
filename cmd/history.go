/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/straightener/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past refinement runs",
	Long:  `List, inspect, and clear the SQLite run history.`,
}

func openHistory() (*store.Store, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("run history is disabled (empty db path)")
	}
	return openStore(cfg.DBPath)
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Println("No runs in history.")
			return nil
		}

		width := newPrinter().width
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tITER\tCONFIDENCE\tTARGET")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status,
				r.Iterations, r.MaxIterations, percent(r.BestConfidence),
				truncate(r.Target, width-60))
		}
		return w.Flush()
	},
}

// shortID abbreviates a run ID for listings; show and delete accept the
// prefix.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run and its iterations (a unique ID prefix is enough)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.GetRun(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get run %s: %w", args[0], err)
		}
		its, err := db.ListIterations(cmd.Context(), run.ID)
		if err != nil {
			return fmt.Errorf("failed to list iterations: %w", err)
		}

		out := newPrinter()
		out.heading("Run " + run.ID)
		out.field("target", "%s", run.Target)
		out.field("status", "%s", run.Status)
		out.field("started", "%s", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if run.FinishedAt != nil {
			out.field("duration", "%s", run.FinishedAt.Sub(run.StartedAt).Round(100*time.Millisecond))
		}
		out.field("iterations", "%d of %d", run.Iterations, run.MaxIterations)
		out.field("threshold", "%s", percent(run.SuccessThreshold))
		out.field("confidence", "%s (best %s at iteration %d)", percent(run.Confidence), percent(run.BestConfidence), run.BestIteration)
		if run.FinalImagePath != "" {
			out.field("final image", "%s", run.FinalImagePath)
		}
		if run.ReportPath != "" {
			out.field("session", "%s", run.ReportPath)
		}
		if run.Error != "" {
			out.field("error", "%s", run.Error)
		}

		if len(its) == 0 {
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tMATCH\tCONFIDENCE\tELAPSED\tMISSING")
		for _, it := range its {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				it.Iteration, yesNo(it.MatchesIntent), percent(it.Confidence),
				it.Elapsed.Round(100*time.Millisecond), truncate(it.MissingElements, out.width-45))
		}
		return w.Flush()
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run history statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Total runs:         %d\n", stats.TotalRuns)
		fmt.Printf("Successful:         %d\n", stats.Successful)
		fmt.Printf("Partial:            %d\n", stats.Partial)
		fmt.Printf("Failed:             %d\n", stats.Failed)
		fmt.Printf("Running:            %d\n", stats.Running)
		fmt.Printf("Total iterations:   %d\n", stats.TotalIterations)
		fmt.Printf("Average iterations: %.1f\n", stats.AverageIterations)
		fmt.Printf("Average confidence: %s\n", percent(stats.AverageConfidence))
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run and its iterations by ID or unique ID prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.GetRun(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get run %s: %w", args[0], err)
		}
		if err := db.DeleteRun(cmd.Context(), run.ID); err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		fmt.Printf("Deleted run: %s\n", run.ID)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all runs from history",
	Long:  `Remove all runs from history. Session directories on disk are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.ClearRuns(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		fmt.Printf("Cleared %d runs from history.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list (0 = all)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyClearCmd)
}
