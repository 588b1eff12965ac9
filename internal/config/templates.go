package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Marko Dashboard Configuration

[api]
# Engine backend base URL
base_url = "http://localhost:8000"
# Per-request timeout
timeout = "15s"
# Serve generated data from the built-in mock engine instead of a backend
use_mock = false

[polling]
# Instance list refresh cadence
instances_interval = "5s"
# Telemetry and chart refresh cadence
telemetry_interval = "5s"
# Minimum spacing between two fetches of the same resource
min_fetch_interval = "2s"
# Delay before the confirming refresh after a control action
confirm_delay = "200ms"
# Default number of chart bars
default_bars_limit = 100

[catalog]
# How long the strategy definition list is served from cache
definitions_ttl = "5m"

[auth]
# Where the local login token is persisted
# token_path = "~/.config/marko-dashboard/token"

[auth.oidc]
# Client-credentials token endpoint; leave empty to use a local login token
token_url = ""
client_id = ""
client_secret = ""
scopes = ["openid", "profile", "email"]

[server]
# Local JSON API for the browser view
addr = "127.0.0.1:8088"

[recorder]
# Persist every telemetry snapshot to a local SQLite history
enabled = false

[notifications]
# Alert when an instance fails, disappears or a control is rolled back
enabled = false
# all or errors_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
