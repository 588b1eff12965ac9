package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"marko-dashboard/internal/dashboard"
)

func addCatalogCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse installable strategy definitions",
	}
	cmd.AddCommand(newCatalogListCmd(app))
	cmd.AddCommand(newCatalogSchemaCmd(app))
	cmd.AddCommand(newCatalogReadmeCmd(app))
	rootCmd.AddCommand(cmd)
}

func newCatalogListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list [query]",
		Short: "List definitions, optionally filtered by id or name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), app.Config.API.Timeout)
			defer cancel()

			d, err := app.Dashboard(ctx, dashboard.Options{})
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			entries, err := d.Catalog.Search(ctx, query)
			if err != nil {
				output.Error("Failed to load catalog: %v", err)
				return err
			}
			if output.IsStructured() {
				return output.Structured(entries)
			}
			if len(entries) == 0 {
				output.Warning("No definitions match %q.", query)
				return nil
			}
			table := NewTable(output, "ID", "NAME", "VERSION", "AUTHOR", "DESCRIPTION")
			for _, e := range entries {
				table.AddRow(e.ID, e.Name, orDash(e.Version), orDash(e.Author), TruncateString(e.Description, 48))
			}
			table.Render()
			return nil
		},
	}
}

func newCatalogSchemaCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <id>",
		Short: "Show the telemetry fields and default parameters of a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), app.Config.API.Timeout)
			defer cancel()

			d, err := app.Dashboard(ctx, dashboard.Options{})
			if err != nil {
				return err
			}
			schema := d.Catalog.Schema(ctx, args[0])
			if schema == nil {
				output.Warning("No schema available for %s.", args[0])
				return fmt.Errorf("schema unavailable for %s", args[0])
			}
			if output.IsStructured() {
				return output.Structured(schema)
			}

			output.Bold("Telemetry fields")
			for _, f := range schema.TelemetryFields {
				output.Printf("  • %s\n", f)
			}
			output.Println()
			output.Bold("Default parameters")
			keys := make([]string, 0, len(schema.DefaultParams))
			for k := range schema.DefaultParams {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				output.Printf("  %-20s %v\n", k, schema.DefaultParams[k])
			}
			return nil
		},
	}
}

func newCatalogReadmeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "readme <id>",
		Short: "Print a definition's readme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), app.Config.API.Timeout)
			defer cancel()

			d, err := app.Dashboard(ctx, dashboard.Options{})
			if err != nil {
				return err
			}
			text, ok := d.Catalog.Readme(ctx, args[0])
			if output.IsStructured() {
				return output.Structured(map[string]interface{}{"id": args[0], "available": ok, "readme": text})
			}
			if !ok {
				output.Dim("No readme available for %s.", args[0])
				return nil
			}
			output.Println(text)
			return nil
		},
	}
}
