package cli

import (
	"context"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"marko-dashboard/internal/dashboard"
	"marko-dashboard/internal/server"
)

func addServeCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newServeCmd(app))
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pollers and expose their state as a local JSON API",
		Example: `  markoctl serve
  markoctl serve --addr 0.0.0.0:8088 --record --mock`,
		Annotations: map[string]string{"longRunning": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			record, _ := cmd.Flags().GetBool("record")
			d, err := app.Dashboard(ctx, dashboard.Options{Record: record})
			if err != nil {
				return err
			}

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.Server.Addr
			}
			srv := server.New(d, app.Logger)

			p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
			p.Go(func(ctx context.Context) error { return d.Run(ctx) })
			p.Go(func(ctx context.Context) error { return srv.ListenAndServe(ctx, addr) })
			return p.Wait()
		},
	}
	cmd.Flags().String("addr", "", "listen address (default: server.addr)")
	cmd.Flags().Bool("record", false, "record snapshots to the history database")
	return cmd
}
