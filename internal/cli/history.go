package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marko-dashboard/internal/dashboard"
	"marko-dashboard/internal/store"
)

func addHistoryCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the recorded telemetry history",
	}
	cmd.AddCommand(newHistorySnapshotsCmd(app))
	cmd.AddCommand(newHistoryControlsCmd(app))
	cmd.AddCommand(newHistoryPruneCmd(app))
	rootCmd.AddCommand(cmd)
}

func openHistory(app *App) (*store.SQLiteStore, error) {
	return dashboard.OpenHistory(app.Config)
}

func newHistorySnapshotsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Short:   "List recorded telemetry snapshots, newest first",
		Example: `  markoctl history snapshots --instance Trend_BTC_1h --since 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			history, err := openHistory(app)
			if err != nil {
				return err
			}
			defer history.Close()

			instance, _ := cmd.Flags().GetString("instance")
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")
			filter := store.SnapshotFilter{InstanceID: instance, Limit: limit}
			if since > 0 {
				filter.From = time.Now().Add(-since)
			}

			snaps, err := history.ListSnapshots(context.Background(), filter)
			if err != nil {
				return err
			}
			if output.IsStructured() {
				return output.Structured(snaps)
			}
			if len(snaps) == 0 {
				output.Dim("No snapshots recorded. Run 'markoctl watch --record' to collect some.")
				return nil
			}
			table := NewTable(output, "TIME", "INSTANCE", "STATUS", "REGIME", "EQUITY", "PNL")
			for _, s := range snaps {
				status := output.Status(s.Status)
				if s.WarmingUp {
					status += output.DimText(" (warmup)")
				}
				table.AddRow(FormatDateTime(s.FetchedAt), s.InstanceID, status, orDash(s.Regime),
					fmt.Sprintf("%.2f", s.Equity), output.FormatPnL(s.UnrealizedPnl))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("instance", "", "only this instance")
	cmd.Flags().Duration("since", 0, "only snapshots newer than this")
	cmd.Flags().Int("limit", 50, "maximum rows")
	return cmd
}

func newHistoryControlsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controls",
		Short: "List recorded control actions and their outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			history, err := openHistory(app)
			if err != nil {
				return err
			}
			defer history.Close()

			instance, _ := cmd.Flags().GetString("instance")
			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := history.ListControls(context.Background(), store.ControlFilter{InstanceID: instance, Limit: limit})
			if err != nil {
				return err
			}
			if output.IsStructured() {
				return output.Structured(entries)
			}
			if len(entries) == 0 {
				output.Dim("No control actions recorded.")
				return nil
			}
			table := NewTable(output, "TIME", "INSTANCE", "ACTION", "OUTCOME", "MESSAGE")
			for _, e := range entries {
				outcome := e.Outcome
				switch outcome {
				case "RECONCILED", "DELETED":
					outcome = output.Green(outcome)
				case "ROLLED_BACK", "FAILED":
					outcome = output.Red(outcome)
				}
				table.AddRow(FormatDateTime(e.Timestamp), e.InstanceID, e.Action, outcome, orDash(e.Message))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("instance", "", "only this instance")
	cmd.Flags().Int("limit", 50, "maximum rows")
	return cmd
}

func newHistoryPruneCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete recorded snapshots and bars older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			history, err := openHistory(app)
			if err != nil {
				return err
			}
			defer history.Close()

			keep, _ := cmd.Flags().GetDuration("keep")
			n, err := history.Prune(context.Background(), time.Now().Add(-keep))
			if err != nil {
				return err
			}
			if output.IsStructured() {
				return output.Structured(map[string]int64{"deleted": n})
			}
			output.Success("✓ Removed %d snapshots older than %s", n, FormatDuration(keep))
			return nil
		},
	}
	cmd.Flags().Duration("keep", 7*24*time.Hour, "retention window")
	return cmd
}
