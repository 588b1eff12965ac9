package cli

import (
	"context"

	"github.com/spf13/cobra"

	"marko-dashboard/internal/dashboard"
	"marko-dashboard/internal/logquery"
	"marko-dashboard/internal/models"
)

func addLogCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLogsCmd(app))
}

func newLogsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Page through server logs",
		Example: `  markoctl logs --level error
  markoctl logs --instance Trend_BTC_1h --limit 20 --page 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), app.Config.API.Timeout)
			defer cancel()

			d, err := app.Dashboard(ctx, dashboard.Options{})
			if err != nil {
				return err
			}

			level, _ := cmd.Flags().GetString("level")
			instance, _ := cmd.Flags().GetString("instance")
			limit, _ := cmd.Flags().GetInt("limit")
			page, _ := cmd.Flags().GetInt("page")

			filter := logquery.Normalize(models.LogFilter{
				Limit:      limit,
				Level:      models.ParseLogLevel(level),
				InstanceID: instance,
			})
			for i := 1; i < page; i++ {
				filter = logquery.Next(filter)
			}

			result, err := d.Logs.Query(ctx, filter)
			if err != nil {
				output.Error("Failed to query logs: %v", err)
				return err
			}
			if output.IsStructured() {
				return output.Structured(result)
			}

			if len(result.Logs) == 0 {
				output.Dim("No log records.")
				return nil
			}
			table := NewTable(output, "TIME", "LEVEL", "MODULE", "INSTANCE", "MESSAGE")
			for _, r := range result.Logs {
				table.AddRow(FormatDateTime(r.Timestamp), output.Level(r.Level), r.Module, orDash(r.InstanceID), TruncateString(r.Message, 80))
			}
			table.Render()
			output.Println()
			output.Dim("Showing %d-%d of %d", result.Offset+1, result.Offset+len(result.Logs), result.Total)
			if result.HasNext() {
				output.Dim("Next page: --page %d", page+1)
			}
			return nil
		},
	}
	cmd.Flags().String("level", "", "only records at this level (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().String("instance", "", "only records of this instance")
	cmd.Flags().Int("limit", logquery.DefaultLimit, "records per page")
	cmd.Flags().Int("page", 1, "page number")
	return cmd
}
