package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"marko-dashboard/internal/auth"
	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Tokens: auth.StaticToken(token), Logger: zerolog.Nop()})
}

func TestBearerAndRequestIDHeaders(t *testing.T) {
	var gotAuth, gotReqID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`[]`))
	}, "tok123")

	if _, err := c.ListInstances(context.Background()); err != nil {
		t.Fatalf("ListInstances() error = %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReqID == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestNoAuthorizationWithoutToken(t *testing.T) {
	var hasAuth bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, hasAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte(`[]`))
	}, "")

	if _, err := c.ListInstances(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hasAuth {
		t.Error("Authorization header sent without a token")
	}
}

func TestDecodeInstancesEnvelopes(t *testing.T) {
	bodies := []string{
		`[{"id":"a","symbol":"BTC/USD","timeframe":"1h","status":"running","active_pnl":1.5}]`,
		`{"strategies":[{"id":"a","symbol":"BTC/USD","timeframe":"1h","status":"RUNNING","active_pnl":1.5}]}`,
		`{"instances":[{"instance_id":"a","symbol":"BTC/USD","timeframe":"1h","status":"RUNNING","activePnl":1.5}]}`,
	}
	for _, body := range bodies {
		got, err := DecodeInstances([]byte(body))
		if err != nil {
			t.Fatalf("DecodeInstances(%s) error = %v", body, err)
		}
		if len(got) != 1 || got[0].ID != "a" || got[0].Status != models.StatusRunning || got[0].ActivePnl != 1.5 {
			t.Errorf("DecodeInstances(%s) = %+v", body, got)
		}
	}
}

func TestDecodeInstancesReplacesDuplicates(t *testing.T) {
	got, err := DecodeInstances([]byte(`[{"id":"a","status":"STOPPED"},{"id":"b"},{"id":"a","status":"RUNNING"},{"symbol":"no-id"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "a" || got[0].Status != models.StatusRunning {
		t.Errorf("duplicate should replace in place, got %+v", got[0])
	}
}

func TestDecodeInstancesRejectsNonJSON(t *testing.T) {
	_, err := DecodeInstances([]byte(`<html>`))
	if !apperrors.Is(err, apperrors.ErrInvalidPayload) {
		t.Errorf("expected invalid payload, got %v", err)
	}
}

func TestNon2xxIsTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"engine offline"}`))
	}, "")

	_, err := c.FetchTelemetry(context.Background(), "a")
	if !apperrors.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if apperrors.StatusCode(err) != http.StatusBadGateway {
		t.Errorf("StatusCode = %d", apperrors.StatusCode(err))
	}
	var terr *apperrors.TransportError
	if apperrors.As(err, &terr) && terr.Body != "engine offline" {
		t.Errorf("Body = %q", terr.Body)
	}
}

func TestUnreachableIsTransportError(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Logger: zerolog.Nop()})
	_, err := c.FetchTelemetry(context.Background(), "")
	if !apperrors.IsTransport(err) || apperrors.StatusCode(err) != 0 {
		t.Errorf("expected status-less transport error, got %v", err)
	}
}

func TestTelemetryAndChartRouting(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		_, _ = w.Write([]byte(`{}`))
	}, "")
	ctx := context.Background()

	_, _ = c.FetchTelemetry(ctx, "")
	_, _ = c.FetchTelemetry(ctx, "Trend_BTC_1h")
	_, _ = c.FetchChart(ctx, "", 100, "")
	_, _ = c.FetchChart(ctx, "Trend_BTC_1h", 50, "ETH/USD")

	want := []string{
		"/api/v1/telemetry",
		"/api/v2/strategies/Trend_BTC_1h/telemetry",
		"/api/chart?limit=100",
		"/api/v2/strategies/Trend_BTC_1h/chart?limit=50&symbol=ETH%2FUSD",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("request %d = %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestControlRejection(t *testing.T) {
	var body map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		_, _ = w.Write([]byte(`{"success":false,"message":"instance is crashed"}`))
	}, "")

	_, err := c.Control(context.Background(), "a", models.ActionStart)
	if !apperrors.IsRejection(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if apperrors.Message(err) != "instance is crashed" {
		t.Errorf("Message = %q", apperrors.Message(err))
	}
	if body["action"] != "start" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateInstanceSnakeCaseBody(t *testing.T) {
	var raw map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v2/admin/instances" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &raw)
		_, _ = w.Write([]byte(`{"success":true,"message":"created"}`))
	}, "")

	msg, err := c.CreateInstance(context.Background(), models.CreateInstanceRequest{
		StrategyID: "trend", InstanceID: "trend_BTCUSD_1h", Symbol: "BTC/USD", Timeframe: models.Timeframe1h,
	})
	if err != nil || msg != "created" {
		t.Fatalf("CreateInstance() = %q, %v", msg, err)
	}
	for _, key := range []string{"strategy_id", "instance_id", "symbol", "timeframe", "params", "broker_config"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("body missing %s: %v", key, raw)
		}
	}
}

func TestInstallDefaultsToMain(t *testing.T) {
	var raw map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &raw)
		_, _ = w.Write([]byte(`{"success":true}`))
	}, "")

	if _, err := c.InstallStrategy(context.Background(), models.InstallRequest{RepositoryURL: "https://github.com/acme/x"}); err != nil {
		t.Fatal(err)
	}
	if raw["version"] != "main" || raw["repository_url"] != "https://github.com/acme/x" {
		t.Errorf("body = %v", raw)
	}
}

func TestCatalogDecoding(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/schema"):
			_, _ = w.Write([]byte(`{"telemetry_fields":["phi",{"name":"volatility"}],"default_params":{"window":20}}`))
		case strings.HasSuffix(r.URL.Path, "/readme"):
			if strings.Contains(r.URL.Path, "missing") {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte("# Trend"))
		default:
			_, _ = w.Write([]byte(`{"strategies":[{"id":"trend","name":"Trend"}]}`))
		}
	}, "")
	ctx := context.Background()

	defs, err := c.CatalogDefinitions(ctx)
	if err != nil || len(defs) != 1 || defs[0].ID != "trend" {
		t.Fatalf("CatalogDefinitions() = %v, %v", defs, err)
	}

	schema, err := c.CatalogSchema(ctx, "trend")
	if err != nil {
		t.Fatal(err)
	}
	if len(schema.TelemetryFields) != 2 || schema.TelemetryFields[1] != "volatility" {
		t.Errorf("TelemetryFields = %v", schema.TelemetryFields)
	}
	if schema.DefaultParams["window"] != float64(20) {
		t.Errorf("DefaultParams = %v", schema.DefaultParams)
	}

	readme, err := c.CatalogReadme(ctx, "trend")
	if err != nil || readme != "# Trend" {
		t.Errorf("CatalogReadme() = %q, %v", readme, err)
	}
	if _, err := c.CatalogReadme(ctx, "missing"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing readme error = %v, want ErrNotFound", err)
	}
}

func TestQueryEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "50" || q.Get("offset") != "50" || q.Get("level") != "ERROR" || q.Get("instance_id") != "a" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"total":120,"limit":50,"offset":50,"logs":[{"timestamp":"2024-05-01T10:00:00Z","level":"error","message":"boom","module":"engine","instance_id":"a"}]}`))
	}, "")

	page, err := c.QueryEvents(context.Background(), models.LogFilter{Limit: 50, Offset: 50, Level: models.LevelError, InstanceID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 120 || len(page.Logs) != 1 || page.Logs[0].Level != models.LevelError {
		t.Errorf("page = %+v", page)
	}
}

func TestQueryEventsLenientTimestamps(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total":4,"limit":50,"offset":0,"logs":[
			{"timestamp":"2024-05-01T10:00:00Z","level":"info","message":"ok"},
			{"timestamp":"2024-05-01T10:00:01.123456","level":"warn","message":"naive"},
			{"timestamp":1714557600,"level":"error","message":"epoch"},
			{"timestamp":"yesterday","level":"info","message":"garbage"}]}`))
	}, "")

	page, err := c.QueryEvents(context.Background(), models.LogFilter{Limit: 50})
	if err != nil {
		t.Fatalf("QueryEvents() error = %v", err)
	}
	if len(page.Logs) != 4 {
		t.Fatalf("len(Logs) = %d, want 4", len(page.Logs))
	}
	naive := time.Date(2024, 5, 1, 10, 0, 1, 123456000, time.UTC)
	if !page.Logs[1].Timestamp.Equal(naive) {
		t.Errorf("naive timestamp = %v, want %v", page.Logs[1].Timestamp, naive)
	}
	if !page.Logs[2].Timestamp.Equal(time.Unix(1714557600, 0)) {
		t.Errorf("epoch timestamp = %v", page.Logs[2].Timestamp)
	}
	if !page.Logs[3].Timestamp.IsZero() || page.Logs[3].Message != "garbage" {
		t.Errorf("unparseable record = %+v", page.Logs[3])
	}
}

func TestLoginAndProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			_, _ = w.Write([]byte(`{"access_token":"jwt-token","token_type":"bearer"}`))
		case "/api/auth/me":
			w.WriteHeader(http.StatusUnauthorized)
		}
	}, "")

	tok, err := c.Login(context.Background(), "op@example.com", "pw")
	if err != nil || tok != "jwt-token" {
		t.Fatalf("Login() = %q, %v", tok, err)
	}
	if _, err := c.Profile(context.Background()); !apperrors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Errorf("Profile() error = %v, want ErrNotAuthenticated", err)
	}
}
