package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"marko-dashboard/internal/dashboard"
	"marko-dashboard/internal/models"
	"marko-dashboard/internal/notify"
	"marko-dashboard/internal/telemetry"
	"marko-dashboard/pkg/utils"
)

func addWatchCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newWatchCmd(app))
}

func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live telemetry and chart updates for an instance",
		Long: `Poll the selected instance's telemetry and chart and print each update.

The instance list is refreshed in the background; when the watched instance
disappears the selection moves to the first remaining instance. With --record
every snapshot is written to the local history database. With --alerts status
changes, rolled back controls and engine errors are printed as they happen.`,
		Example: `  markoctl watch
  markoctl watch --instance MeanRev_ETH_15m --symbol ETH/USD
  markoctl watch --record --for 10m
  markoctl watch --alerts --bell`,
		Annotations: map[string]string{"longRunning": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signalContext()
			defer stop()
			if limit, _ := cmd.Flags().GetDuration("for"); limit > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}

			record, _ := cmd.Flags().GetBool("record")
			opts := dashboard.Options{Record: record}
			if alerts, _ := cmd.Flags().GetBool("alerts"); alerts && !output.IsStructured() {
				bell, _ := cmd.Flags().GetBool("bell")
				opts.Alerts = append(opts.Alerts, notify.NewTerminalNotifier(cmd.OutOrStdout(), bell))
			}
			d, err := app.Dashboard(ctx, opts)
			if err != nil {
				return err
			}

			if id, _ := cmd.Flags().GetString("instance"); id != "" {
				if _, err := d.Registry.List(ctx); err != nil {
					output.Warning("Instance list unavailable: %v", err)
				}
				if !d.Select(id) {
					output.Warning("Instance %q not found, watching %q", id, d.Registry.Selected())
				}
			}
			if symbol, _ := cmd.Flags().GetString("symbol"); symbol != "" {
				d.Stream.SetChartSymbol(symbol)
			}
			if bars, _ := cmd.Flags().GetInt("bars"); bars > 0 {
				d.Stream.SetBarsLimit(bars)
			}

			updates := d.Stream.Subscribe()
			done := make(chan error, 1)
			go func() { done <- d.Run(ctx) }()

			var last printed
			for st := range updates {
				if output.IsStructured() {
					if st.Telemetry != nil && last.changed(st) {
						_ = output.Structured(st)
					}
				} else {
					printUpdate(output, d, st, &last)
				}
				last.remember(st)
			}
			return <-done
		},
	}
	cmd.Flags().String("instance", "", "instance to watch (default: first listed)")
	cmd.Flags().String("symbol", "", "chart symbol")
	cmd.Flags().Int("bars", 0, "number of chart bars")
	cmd.Flags().Bool("record", false, "record snapshots to the history database")
	cmd.Flags().Duration("for", 0, "stop after this long")
	cmd.Flags().Bool("alerts", false, "print instance alerts")
	cmd.Flags().Bool("bell", false, "ring the terminal bell on error alerts")
	return cmd
}

// printed remembers what was last shown so unchanged states are skipped.
type printed struct {
	instanceID string
	fetchedAt  time.Time
	chartAt    time.Time
	errText    string
}

func (p *printed) changed(st telemetry.State) bool {
	return st.InstanceID != p.instanceID ||
		(st.Telemetry != nil && !st.Telemetry.FetchedAt.Equal(p.fetchedAt)) ||
		!st.ChartUpdated.Equal(p.chartAt) || st.Error != p.errText
}

func (p *printed) remember(st telemetry.State) {
	p.instanceID = st.InstanceID
	if st.Telemetry != nil {
		p.fetchedAt = st.Telemetry.FetchedAt
	}
	p.chartAt = st.ChartUpdated
	p.errText = st.Error
}

func printUpdate(output *Output, d *dashboard.Dashboard, st telemetry.State, last *printed) {
	if st.InstanceID != last.instanceID {
		name := st.InstanceID
		if name == "" {
			name = "(legacy endpoint)"
		}
		output.Bold("▶ Watching %s", name)
	}
	if st.Error != "" && st.Error != last.errText {
		output.Warning("%s  telemetry stale: %s", FormatTime(time.Now()), st.Error)
	}

	if rec := st.Telemetry; rec != nil && !rec.FetchedAt.Equal(last.fetchedAt) {
		inst, _ := d.Registry.Instance(st.InstanceID)
		inst = models.EffectiveInstance(inst, rec)
		line := FormatTime(rec.FetchedAt) + "  " + output.Status(inst.Status) +
			"  equity " + utils.FormatCurrency(rec.Status.Equity) +
			"  pnl " + output.FormatPnL(inst.ActivePnl)
		if rec.Status.IsWarmingUp {
			line += "  warmup " + FormatProgress(rec.Status.WarmupProgress, 10)
		}
		if rec.Strategy.Regime != "" {
			line += "  " + output.Cyan(rec.Strategy.Regime)
		}
		output.Println(line)
	}

	if c := st.Chart; c != nil && !st.ChartUpdated.Equal(last.chartAt) && len(c.Bars) > 0 {
		bar := c.Bars[len(c.Bars)-1]
		line := FormatTime(st.ChartUpdated) + "  " + c.Symbol + " " + string(c.Timeframe) +
			"  close " + utils.FormatPrice(bar.Close) +
			"  bars " + strconv.Itoa(len(c.Bars))
		if pos := c.Overlays.CurrentPosition; pos.Side != "" && pos.Side != models.SideFlat {
			line += "  " + string(pos.Side) + " " + utils.FormatQuantity(pos.Size)
		}
		output.Dim("%s", line)
	}
}
