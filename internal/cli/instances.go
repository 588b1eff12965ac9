package cli

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"marko-dashboard/internal/dashboard"
	"marko-dashboard/internal/models"
	"marko-dashboard/pkg/utils"
)

// addInstanceCommands adds instance and strategy management commands.
func addInstanceCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "instances",
		Aliases: []string{"inst"},
		Short:   "List and control strategy instances",
	}
	cmd.AddCommand(newInstancesListCmd(app))
	cmd.AddCommand(newInstancesSelectCmd(app))
	cmd.AddCommand(newInstancesControlCmd(app))
	cmd.AddCommand(newInstancesDeleteCmd(app))
	cmd.AddCommand(newInstancesCreateCmd(app))
	rootCmd.AddCommand(cmd)

	strategies := &cobra.Command{
		Use:   "strategies",
		Short: "Manage installed strategy definitions",
	}
	strategies.AddCommand(newStrategiesInstallCmd(app))
	rootCmd.AddCommand(strategies)
}

// loadInstances builds the dashboard and fetches the instance list once.
func loadInstances(ctx context.Context, app *App) (*dashboard.Dashboard, error) {
	d, err := app.Dashboard(ctx, dashboard.Options{})
	if err != nil {
		return nil, err
	}
	if _, err := d.Registry.List(ctx); err != nil {
		return nil, fmt.Errorf("fetching instances: %w", err)
	}
	return d, nil
}

func newInstancesListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deployed instances",
		Example: `  markoctl instances list
  markoctl instances list -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), app.Config.API.Timeout)
			defer cancel()

			d, err := loadInstances(ctx, app)
			if err != nil {
				output.Error("Failed to list instances: %v", err)
				return err
			}
			list := d.Registry.Instances()
			if output.IsStructured() {
				return output.Structured(list)
			}
			renderInstances(output, list, d.Registry.Selected())
			return nil
		},
	}
}

func renderInstances(output *Output, list []models.Instance, selected string) {
	if len(list) == 0 {
		output.Warning("No instances deployed.")
		output.Dim("Create one with 'markoctl instances create'.")
		return
	}

	table := NewTable(output, "", "ID", "SYMBOL", "TF", "STATUS", "BROKER", "PNL")
	pnls := make([]float64, 0, len(list))
	for _, inst := range list {
		marker := " "
		if inst.ID == selected {
			marker = "▶"
		}
		table.AddRow(marker, inst.ID, inst.Symbol, string(inst.Timeframe), output.Status(inst.Status),
			string(inst.BrokerType), output.FormatPnL(inst.ActivePnl))
		pnls = append(pnls, inst.ActivePnl)
	}
	table.Render()
	output.Println()
	output.Printf("%d instances, total PnL %s\n", len(list), output.FormatPnL(utils.SumMoney(pnls...)))
}

func newInstancesSelectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Show an instance with its live telemetry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), app.Config.API.Timeout)
			defer cancel()

			d, err := loadInstances(ctx, app)
			if err != nil {
				output.Error("Failed to list instances: %v", err)
				return err
			}
			if !d.Select(args[0]) {
				output.Error("Unknown instance %q", args[0])
				return fmt.Errorf("unknown instance %q", args[0])
			}
			d.Stream.RefreshTelemetry(ctx)

			inst, _ := d.Registry.Instance(args[0])
			st := d.Stream.State()
			effective := models.EffectiveInstance(inst, st.Telemetry)
			if output.IsStructured() {
				return output.Structured(map[string]interface{}{
					"instance":  effective,
					"telemetry": st.Telemetry,
				})
			}
			renderTelemetry(output, effective, st.Telemetry, st.Error)
			return nil
		},
	}
}

func newInstancesControlCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "control <id> <start|stop|pause>",
		Short: "Start, stop or pause an instance",
		Example: `  markoctl instances control Trend_BTC_1h stop
  markoctl instances control Trend_BTC_1h start --wait`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 2*app.Config.API.Timeout)
			defer cancel()

			action, ok := models.ParseControlAction(strings.ToLower(args[1]))
			if !ok {
				output.Error("Unknown action %q (expected start, stop or pause)", args[1])
				return fmt.Errorf("unknown action %q", args[1])
			}

			d, err := loadInstances(ctx, app)
			if err != nil {
				output.Error("Failed to list instances: %v", err)
				return err
			}

			res := d.Control(ctx, args[0], action)
			if wait, _ := cmd.Flags().GetBool("wait"); wait && res.Success {
				time.Sleep(app.Config.Polling.ConfirmDelay)
				_, _ = d.Registry.List(ctx)
			}
			return reportResult(output, res, func() {
				if inst, ok := d.Registry.Instance(args[0]); ok {
					output.Printf("  %s is now %s\n", inst.ID, output.Status(inst.Status))
				}
			})
		},
	}
	cmd.Flags().Bool("wait", true, "re-fetch the list after the confirm delay")
	return cmd
}

func newInstancesDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an instance (asks for confirmation)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 2*app.Config.API.Timeout)
			defer cancel()

			d, err := loadInstances(ctx, app)
			if err != nil {
				output.Error("Failed to list instances: %v", err)
				return err
			}
			token, err := d.Registry.RequestDelete(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}

			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				output.Warning("This permanently deletes %s.", args[0])
				output.Printf("Type the instance id to confirm: ")
				reader := bufio.NewReader(cmd.InOrStdin())
				answer, _ := reader.ReadString('\n')
				if strings.TrimSpace(answer) != args[0] {
					d.Registry.CancelDelete(token)
					output.Dim("Cancelled.")
					return nil
				}
			}

			return reportResult(output, d.ConfirmDelete(ctx, token), nil)
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newInstancesCreateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <strategy> <symbol> <timeframe>",
		Short: "Create an instance of an installed strategy",
		Example: `  markoctl instances create trend BTC/USD 1h
  markoctl instances create meanrev ETH/USD 15m --id my_eth --param rsi_period=10 --live`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 2*app.Config.API.Timeout)
			defer cancel()

			d, err := app.Dashboard(ctx, dashboard.Options{})
			if err != nil {
				return err
			}

			id, _ := cmd.Flags().GetString("id")
			rawParams, _ := cmd.Flags().GetStringToString("param")
			live, _ := cmd.Flags().GetBool("live")

			req := models.CreateInstanceRequest{
				StrategyID: args[0],
				InstanceID: id,
				Symbol:     strings.ToUpper(args[1]),
				Timeframe:  models.Timeframe(args[2]),
				Params:     parseParams(rawParams),
			}
			// Start from the definition's defaults when the schema is available.
			if schema := d.Catalog.Schema(ctx, args[0]); schema != nil {
				for k, v := range schema.DefaultParams {
					if _, set := req.Params[k]; !set {
						req.Params[k] = v
					}
				}
			}
			broker := "paper"
			if live {
				broker = "live"
			}
			req.BrokerConfig = map[string]interface{}{"type": broker}

			return reportResult(output, d.CreateInstance(ctx, req), nil)
		},
	}
	cmd.Flags().String("id", "", "instance id (default: <strategy>_<symbol>_<timeframe>)")
	cmd.Flags().StringToString("param", nil, "strategy parameter key=value (repeatable)")
	cmd.Flags().Bool("live", false, "trade through the live broker instead of paper")
	return cmd
}

// parseParams converts numeric and boolean strings to typed values.
func parseParams(raw map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if b, err := strconv.ParseBool(v); err == nil && (v == "true" || v == "false") {
			out[k] = b
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else {
			out[k] = v
		}
	}
	return out
}

func newStrategiesInstallCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "install <repository-url>",
		Short:   "Install a strategy definition from a git repository",
		Example: `  markoctl strategies install https://github.com/acme/breakout.git --version 1.2.0`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			d, err := app.Dashboard(ctx, dashboard.Options{})
			if err != nil {
				return err
			}
			version, _ := cmd.Flags().GetString("version")
			output.Info("Installing %s...", args[0])
			return reportResult(output, d.InstallStrategy(ctx, models.InstallRequest{RepositoryURL: args[0], Version: version}), nil)
		},
	}
	cmd.Flags().String("version", "", "tag or version to install (default: latest)")
	return cmd
}

// reportResult prints an action outcome and turns a failure into an error.
func reportResult(output *Output, res models.ActionResult, after func()) error {
	if output.IsStructured() {
		if err := output.Structured(res); err != nil {
			return err
		}
	} else if res.Success {
		output.Success("✓ %s", res.Message)
		if after != nil {
			after()
		}
	} else {
		output.Error("✗ %s", res.Error)
	}
	if !res.Success {
		return fmt.Errorf("%s", res.Error)
	}
	return nil
}

func renderTelemetry(output *Output, inst models.Instance, rec *models.TelemetryRecord, errText string) {
	lines := []string{
		fmt.Sprintf("Status     %s", output.Status(inst.Status)),
		fmt.Sprintf("Symbol     %s  %s", inst.Symbol, inst.Timeframe),
		fmt.Sprintf("PnL        %s", output.FormatPnL(inst.ActivePnl)),
	}
	if rec != nil {
		s := rec.Status
		if s.IsWarmingUp {
			lines = append(lines, fmt.Sprintf("Warmup     %s  (%s left)", FormatProgress(s.WarmupProgress, 20),
				FormatDuration(time.Duration(s.WarmupRemainingSec*float64(time.Second)))))
		}
		lines = append(lines,
			fmt.Sprintf("Equity     %s  cash %s  exposure %.1f%%", utils.FormatCurrency(s.Equity), utils.FormatCurrency(s.Cash), s.ExposurePct),
			fmt.Sprintf("Regime     %s", orDash(rec.Strategy.Regime)),
			fmt.Sprintf("Phi/Vol    %s / %s", FormatOptional(rec.Strategy.Phi, 3), FormatOptional(rec.Strategy.Volatility, 4)),
			fmt.Sprintf("Conviction %s  risk x%s", FormatOptional(rec.Strategy.ConvictionScore, 2), FormatOptional(rec.Strategy.RiskMultiplier, 2)),
			fmt.Sprintf("Decision   %s", orDash(rec.Strategy.LastDecision)),
		)
		if len(rec.Strategy.Filters) > 0 {
			names := make([]string, 0, len(rec.Strategy.Filters))
			for name := range rec.Strategy.Filters {
				names = append(names, name)
			}
			sort.Strings(names)
			var parts []string
			for _, name := range names {
				if rec.Strategy.Filters[name] {
					parts = append(parts, output.Green("✓ "+name))
				} else {
					parts = append(parts, output.Red("✗ "+name))
				}
			}
			lines = append(lines, "Filters    "+strings.Join(parts, "  "))
		}
		for _, p := range rec.Positions {
			lines = append(lines, fmt.Sprintf("Position   %s %s @ %s  %s", p.Symbol, utils.FormatQuantity(p.Size),
				utils.FormatPrice(p.AvgPrice), output.FormatPnL(p.UnrealizedPnl)))
		}
		if s.Heartbeat != nil {
			lines = append(lines, "Heartbeat  "+FormatAge(*s.Heartbeat, time.Now()))
		}
	}
	if errText != "" {
		lines = append(lines, output.Yellow("Stale: "+errText))
	}
	output.Box(inst.ID, lines)

	if rec != nil && len(rec.Events) > 0 {
		output.Println()
		output.Bold("Recent events")
		for _, e := range rec.Events {
			output.Printf("  %s  %-5s %s\n", FormatTime(e.Timestamp), e.Type, e.Message)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
