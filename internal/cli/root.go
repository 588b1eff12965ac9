// Package cli provides the command-line interface for the trading dashboard.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"marko-dashboard/internal/auth"
	"marko-dashboard/internal/config"
	"marko-dashboard/internal/dashboard"
	"marko-dashboard/internal/logging"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger

	dash *dashboard.Dashboard
}

// Dashboard builds the dashboard on first use.
func (app *App) Dashboard(ctx context.Context, opts dashboard.Options) (*dashboard.Dashboard, error) {
	if app.dash != nil {
		return app.dash, nil
	}
	d, err := dashboard.New(ctx, app.Config, app.Logger, opts)
	if err != nil {
		return nil, err
	}
	app.dash = d
	return d, nil
}

// Close releases the dashboard if one was built.
func (app *App) Close() {
	if app.dash != nil {
		app.dash.Close()
		app.dash = nil
	}
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "markoctl",
		Short: "Marko dashboard - monitor and control strategy instances",
		Long: `markoctl keeps a live view of the strategy engine's instances.

It polls the instance list and the selected instance's telemetry and chart,
runs start/stop/pause actions with optimistic updates, browses the strategy
catalog and pages through server logs. 'markoctl serve' exposes the same
state as a local JSON API.

Use 'markoctl examples' to see common workflows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
	}
	cobra.OnFinalize(app.Close)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/marko-dashboard)")
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format: text, json or yaml")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("mock", false, "serve data from the built-in mock engine")

	addCoreCommands(rootCmd, app)
	addInstanceCommands(rootCmd, app)
	addWatchCommands(rootCmd, app)
	addCatalogCommands(rootCmd, app)
	addLogCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)
	addServeCommands(rootCmd, app)
	addHistoryCommands(rootCmd, app)
	addHelpCommands(rootCmd, app)

	return rootCmd
}

func (app *App) init(cmd *cobra.Command) error {
	switch format, _ := cmd.Flags().GetString("output"); format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	app.ConfigDir = dir

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if mock, _ := cmd.Flags().GetBool("mock"); mock {
		cfg.API.UseMock = true
	}
	app.Config = cfg

	logCfg := logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}
	// Console logs are noise for one-shot commands unless debugging.
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	} else if cmd.Annotations["longRunning"] != "true" {
		logCfg.Console = false
	}
	app.Logger = logging.NewLoggerWithConfig(logCfg)
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsStructured() {
				return output.Structured(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("markoctl v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the dashboard configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsStructured() {
				return output.Structured(redacted(app.Config))
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := filepath.Join(app.ConfigDir, "config.toml")
			if output.IsStructured() {
				return output.Structured(map[string]string{"dir": app.ConfigDir, "file": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsStructured() {
				return output.Structured(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func redacted(cfg *config.Config) config.Config {
	out := *cfg
	if out.Auth.AccessToken != "" {
		out.Auth.AccessToken = auth.MaskToken(out.Auth.AccessToken)
	}
	if out.Auth.OIDC.ClientSecret != "" {
		out.Auth.OIDC.ClientSecret = auth.MaskToken(out.Auth.OIDC.ClientSecret)
	}
	if out.Notify.Telegram.BotToken != "" {
		out.Notify.Telegram.BotToken = auth.MaskToken(out.Notify.Telegram.BotToken)
	}
	return out
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Backend")
	output.Printf("  Base URL:        %s\n", cfg.API.BaseURL)
	output.Printf("  Timeout:         %s\n", cfg.API.Timeout)
	output.Printf("  Mock engine:     %v\n", cfg.API.UseMock)
	output.Println()

	output.Bold("Polling")
	output.Printf("  Instances:       every %s\n", cfg.Polling.InstancesInterval)
	output.Printf("  Telemetry:       every %s\n", cfg.Polling.TelemetryInterval)
	output.Printf("  Min fetch gap:   %s\n", cfg.Polling.MinFetchInterval)
	output.Printf("  Confirm delay:   %s\n", cfg.Polling.ConfirmDelay)
	output.Printf("  Bars:            %d\n", cfg.Polling.DefaultBarsLimit)
	output.Println()

	output.Bold("Catalog")
	output.Printf("  Definitions TTL: %s\n", cfg.Catalog.DefinitionsTTL)
	output.Println()

	output.Bold("Auth")
	output.Printf("  Token file:      %s\n", cfg.Auth.TokenPath)
	output.Printf("  OIDC:            %v\n", cfg.Auth.OIDC.Enabled())
	output.Println()

	output.Bold("Server / Recorder")
	output.Printf("  API address:     %s\n", cfg.Server.Addr)
	output.Printf("  Recording:       %v (%s)\n", cfg.Recorder.Enabled, cfg.Recorder.DBPath)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Logging.Level)
	output.Printf("  File:            %s\n", cfg.Logging.FilePath)

	return nil
}
