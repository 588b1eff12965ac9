package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// addHelpCommands adds help and documentation commands.
func addHelpCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCommandsCmd(app))
	rootCmd.AddCommand(newExamplesCmd(app))
	rootCmd.AddCommand(newQuickstartCmd(app))
}

type commandRef struct {
	cmd  string
	desc string
}

func newCommandsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List all commands by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Marko Dashboard Commands")
			output.Println()

			categories := []struct {
				name     string
				commands []commandRef
			}{
				{"Instances", []commandRef{
					{"instances list", "List deployed strategy instances"},
					{"instances select <id>", "Show live telemetry for an instance"},
					{"instances control <id> <action>", "Start, stop or pause"},
					{"instances delete <id>", "Delete with confirmation"},
					{"instances create <definition> <symbol> <tf>", "Deploy a new instance"},
					{"strategies install <repo-url>", "Install a definition from git"},
				}},
				{"Monitoring", []commandRef{
					{"watch", "Follow telemetry and chart updates"},
					{"logs", "Page through server logs"},
					{"history snapshots/controls/prune", "Recorded history"},
				}},
				{"Catalog", []commandRef{
					{"catalog list [query]", "Browse definitions"},
					{"catalog schema <id>", "Telemetry fields and defaults"},
					{"catalog readme <id>", "Definition readme"},
				}},
				{"Access", []commandRef{
					{"auth login/logout/whoami", "Manage the engine login"},
					{"serve", "Local JSON API"},
					{"config show/path/validate", "Configuration"},
				}},
				{"Help", []commandRef{
					{"help <command>", "Detailed help"},
					{"commands", "List all commands"},
					{"examples", "Common workflows"},
					{"quickstart", "New user guide"},
					{"version", "Version information"},
				}},
			}

			for _, cat := range categories {
				output.Bold(cat.name)
				for _, c := range cat.commands {
					output.Printf("  %-44s %s\n", output.Cyan(c.cmd), c.desc)
				}
				output.Println()
			}

			output.Dim("Use 'markoctl help <command>' for detailed help on any command")
			return nil
		},
	}
}

func newExamplesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show common workflow examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Common Workflows")
			output.Println()

			examples := []struct {
				title    string
				commands []string
			}{
				{
					title: "Try It Without an Engine",
					commands: []string{
						"markoctl --mock instances list   # Seeded demo instances",
						"markoctl --mock watch --for 30s  # Follow the selected one",
					},
				},
				{
					title: "Restart a Failing Instance",
					commands: []string{
						"markoctl logs --level error --instance Trend_BTC_1h",
						"markoctl instances control Trend_BTC_1h stop --wait",
						"markoctl instances control Trend_BTC_1h start --wait",
					},
				},
				{
					title: "Deploy a New Instance",
					commands: []string{
						"markoctl catalog list trend      # Find a definition",
						"markoctl catalog schema trend    # Check its default parameters",
						"markoctl instances create trend ETH/USD 4h --param fast=12",
					},
				},
				{
					title: "Record and Review",
					commands: []string{
						"markoctl serve --record          # Poll and record in the background",
						"markoctl history snapshots --since 1h",
						"markoctl history controls",
						"markoctl history prune --keep 72h",
					},
				},
				{
					title: "Scripting",
					commands: []string{
						"markoctl instances list -o json",
						"markoctl logs --level warn -o yaml",
					},
				},
			}

			for _, ex := range examples {
				output.Bold(ex.title)
				for _, c := range ex.commands {
					parts := strings.SplitN(c, "#", 2)
					if len(parts) == 2 {
						output.Printf("  %s %s\n", output.Cyan(strings.TrimSpace(parts[0])), output.DimText(strings.TrimSpace(parts[1])))
					} else {
						output.Printf("  %s\n", output.Cyan(c))
					}
				}
				output.Println()
			}
			return nil
		},
	}
}

func newQuickstartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "New user guide",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Marko Dashboard - Quick Start Guide")
			output.Println()

			steps := []struct {
				title string
				desc  string
				cmd   string
			}{
				{"Point at the engine", "Set api.base_url in config.toml or MARKO_API_BASE_URL.", "markoctl config path"},
				{"Log in", "Exchange your credentials for an access token.", "markoctl auth login --email you@example.com"},
				{"List instances", "Check the engine answers.", "markoctl instances list"},
				{"Watch one", "Follow telemetry and the chart of an instance.", "markoctl watch --instance Trend_BTC_1h"},
				{"Serve the API", "Expose dashboard state to local tools.", "markoctl serve"},
			}
			for i, s := range steps {
				output.Printf("%s Step %d: %s\n", output.Cyan("→"), i+1, output.BoldText(s.title))
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.DimText(s.cmd))
			}

			output.Bold("Notes")
			output.Printf("  %s Add --mock to any command to run against the built-in engine\n", output.Yellow("⚠"))
			output.Printf("  %s Control actions are applied optimistically and rolled back on failure\n", output.Yellow("⚠"))
			return nil
		},
	}
}
