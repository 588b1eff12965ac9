package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"marko-dashboard/internal/models"
)

// run executes markoctl with args against a temporary config directory.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", dir}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, t.TempDir(), "version", "-o", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if v["version"] != Version {
		t.Errorf("version = %q", v["version"])
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	if _, err := run(t, t.TempDir(), "version", "-o", "xml"); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestConfigPathWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "config.toml")
	if strings.TrimSpace(out) != want {
		t.Errorf("config path = %q, want %q", out, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("template not written: %v", err)
	}
}

func TestInstancesListMock(t *testing.T) {
	out, err := run(t, t.TempDir(), "--mock", "instances", "list", "-o", "json")
	if err != nil {
		t.Fatalf("instances list: %v\n%s", err, out)
	}
	var list []models.Instance
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, out)
	}
	if len(list) != 3 {
		t.Fatalf("got %d instances, want 3", len(list))
	}
	if _, ok := models.FindInstance(list, "Arb_SOL_5m"); !ok {
		t.Error("Arb_SOL_5m missing")
	}
}

func TestInstancesListText(t *testing.T) {
	out, err := run(t, t.TempDir(), "--mock", "instances", "list")
	if err != nil {
		t.Fatalf("instances list: %v", err)
	}
	for _, want := range []string{"Trend_BTC_1h", "MeanRev_ETH_15m", "3 instances"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCatalogSearchMock(t *testing.T) {
	out, err := run(t, t.TempDir(), "--mock", "catalog", "list", "trend", "-o", "json")
	if err != nil {
		t.Fatalf("catalog list: %v", err)
	}
	var entries []models.CatalogEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].ID != "trend" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestLogsFilterMock(t *testing.T) {
	out, err := run(t, t.TempDir(), "--mock", "logs", "--level", "error", "--limit", "5", "-o", "json")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	var page models.LogPage
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, out)
	}
	if page.Total != 20 || len(page.Logs) != 5 {
		t.Errorf("total=%d logs=%d, want 20 and 5", page.Total, len(page.Logs))
	}
	for _, r := range page.Logs {
		if r.Level != models.LevelError {
			t.Errorf("unexpected level %s", r.Level)
		}
	}
}

func TestLoginStoresToken(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "--mock", "auth", "login", "--register", "--email", "ops@example.com", "--password", "secret")
	if err != nil {
		t.Fatalf("login: %v\n%s", err, out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "token"))
	if err != nil || strings.TrimSpace(string(data)) == "" {
		t.Fatalf("token not stored: %v", err)
	}

	if _, err := run(t, dir, "auth", "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "token")); !os.IsNotExist(err) {
		t.Errorf("token file should be removed, stat err = %v", err)
	}
}

func TestHistoryEmpty(t *testing.T) {
	out, err := run(t, t.TempDir(), "history", "controls", "-o", "json")
	if err != nil {
		t.Fatalf("history controls: %v", err)
	}
	if strings.TrimSpace(out) != "null" && strings.TrimSpace(out) != "[]" {
		t.Errorf("expected no entries, got %s", out)
	}
}
