package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"marko-dashboard/internal/auth"
	"marko-dashboard/internal/dashboard"
)

// addAuthCommands adds authentication commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the engine login",
	}
	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newWhoamiCmd(app))
	rootCmd.AddCommand(cmd)
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the engine with email and password",
		Long: `Exchange email and password for an access token and store it in the
token file. An OIDC client or MARKO_ACCESS_TOKEN takes precedence over the
stored token.`,
		Example: `  markoctl auth login --email ops@example.com
  markoctl auth login --email new@example.com --register`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), app.Config.API.Timeout)
			defer cancel()

			d, err := app.Dashboard(ctx, dashboard.Options{})
			if err != nil {
				return err
			}

			reader := bufio.NewReader(cmd.InOrStdin())
			email, _ := cmd.Flags().GetString("email")
			if email == "" {
				output.Printf("Email: ")
				email = readLine(reader)
			}
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				output.Printf("Password: ")
				password = readLine(reader)
			}
			if email == "" || password == "" {
				output.Error("Email and password are required")
				return fmt.Errorf("missing credentials")
			}

			exchange := d.Client.Login
			if register, _ := cmd.Flags().GetBool("register"); register {
				exchange = d.Client.Register
			}
			token, err := exchange(ctx, email, password)
			if err != nil {
				output.Error("Login failed: %v", err)
				return err
			}
			if err := d.Tokens.Set(token); err != nil {
				output.Error("Failed to store token: %v", err)
				return err
			}
			app.Logger.Info().Str("token", auth.MaskToken(token)).Msg("Stored access token")

			if output.IsStructured() {
				return output.Structured(map[string]interface{}{
					"success": true,
					"path":    d.Tokens.Path(),
				})
			}
			output.Success("✓ Logged in as %s", email)
			output.Dim("Token stored in %s", d.Tokens.Path())
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (prompted when omitted)")
	cmd.Flags().Bool("register", false, "create the account first")
	return cmd
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			store := auth.NewFileStore(app.Config.Auth.TokenPath)
			if store.Token() == "" {
				output.Warning("Not currently logged in.")
				return nil
			}
			if err := store.Clear(); err != nil {
				output.Error("Logout failed: %v", err)
				return err
			}
			if output.IsStructured() {
				return output.Structured(map[string]interface{}{
					"success":   true,
					"timestamp": time.Now().Format(time.RFC3339),
				})
			}
			output.Success("✓ Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user and token status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), app.Config.API.Timeout)
			defer cancel()

			d, err := app.Dashboard(ctx, dashboard.Options{})
			if err != nil {
				return err
			}

			token := d.Tokens.Token()
			var claims *auth.Claims
			if token != "" {
				claims, _ = auth.Inspect(token)
			}

			profile, err := d.Client.Profile(ctx)
			if output.IsStructured() {
				result := map[string]interface{}{"profile": profile, "claims": claims}
				if err != nil {
					result["error"] = err.Error()
				}
				return output.Structured(result)
			}

			if claims != nil {
				output.Bold("Stored token")
				output.Printf("  Issuer:   %s (local: %v)\n", claims.Issuer, claims.Issuer == auth.LocalIssuer)
				output.Printf("  Subject:  %s\n", claims.Subject)
				if claims.ExpiresAt != nil {
					exp := claims.ExpiresAt.Time
					if claims.Expired(time.Now()) {
						output.Printf("  Expires:  %s\n", output.Red("expired "+FormatAge(exp, time.Now())))
					} else {
						output.Printf("  Expires:  in %s\n", FormatDuration(time.Until(exp)))
					}
				}
				output.Println()
			}

			if err != nil {
				output.Warning("Not authenticated: %v", err)
				return err
			}
			output.Bold("Profile")
			output.Printf("  Username: %s\n", profile.Username)
			if profile.Email != "" {
				output.Printf("  Email:    %s\n", profile.Email)
			}
			if profile.Role != "" {
				output.Printf("  Role:     %s\n", profile.Role)
			}
			return nil
		},
	}
}
