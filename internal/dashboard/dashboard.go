// Package dashboard wires the sync layer together from configuration.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"marko-dashboard/internal/api"
	"marko-dashboard/internal/auth"
	"marko-dashboard/internal/catalog"
	"marko-dashboard/internal/clock"
	"marko-dashboard/internal/config"
	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/logging"
	"marko-dashboard/internal/logquery"
	"marko-dashboard/internal/mockapi"
	"marko-dashboard/internal/models"
	"marko-dashboard/internal/notify"
	"marko-dashboard/internal/registry"
	"marko-dashboard/internal/security"
	"marko-dashboard/internal/store"
	"marko-dashboard/internal/telemetry"
)

// Options adjust how the dashboard is assembled.
type Options struct {
	// Record enables the history recorder regardless of configuration.
	Record bool
	// Clock drives every poller; nil uses the wall clock.
	Clock      clock.Clock
	HTTPClient *http.Client
	// Alerts are extra notification channels; any channel enables alerting.
	Alerts []notify.Channel
}

// Dashboard holds the live components of one session.
type Dashboard struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Client   *api.Client
	Tokens   *auth.FileStore
	Registry *registry.Registry
	Stream   *telemetry.Stream
	Catalog  *catalog.Cache
	Logs     *logquery.Query
	// History is nil unless recording is enabled.
	History store.HistoryStore
	// Mock is set when the built-in engine serves the backend.
	Mock *mockapi.Engine
	// Notifier is nil unless notifications are enabled.
	Notifier *notify.MultiNotifier

	clock     clock.Clock
	recorder  *store.Recorder
	watcher   *notify.Watcher
	mockSrv   *mockapi.Server
	validator *security.InputValidator
}

// New assembles a dashboard. With api.use_mock the mock engine is started on
// a loopback port and the client is pointed at it.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dashboard, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	d := &Dashboard{
		Config:    cfg,
		Logger:    logger,
		Tokens:    auth.NewFileStore(cfg.Auth.TokenPath),
		clock:     clk,
		validator: security.NewInputValidator(),
	}

	baseURL := cfg.API.BaseURL
	if cfg.API.UseMock {
		mcfg := mockapi.DefaultConfig()
		mcfg.Clock = clk
		mcfg.Logger = logger
		d.Mock = mockapi.New(mcfg)
		srv, err := mockapi.Listen(d.Mock, "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("starting mock engine: %w", err)
		}
		d.mockSrv = srv
		baseURL = srv.URL
	}

	d.Client = api.New(api.Config{
		BaseURL:    baseURL,
		Timeout:    cfg.API.Timeout,
		Tokens:     auth.NewProvider(ctx, cfg.Auth, d.Tokens, logger),
		HTTPClient: opts.HTTPClient,
		Logger:     logger,
	})

	d.Registry = registry.New(d.Client, registry.Config{
		Interval:        cfg.Polling.InstancesInterval,
		ConfirmDelay:    cfg.Polling.ConfirmDelay,
		ConfirmAttempts: 3,
		DeleteTTL:       30 * time.Second,
		Clock:           clk,
		Logger:          logger,
	})

	d.Stream = telemetry.New(d.Client, d.Registry.Selected, telemetry.Config{
		Interval:    cfg.Polling.TelemetryInterval,
		MinInterval: cfg.Polling.MinFetchInterval,
		BarsLimit:   cfg.Polling.DefaultBarsLimit,
		Clock:       clk,
		Logger:      logger,
	})

	d.Catalog = catalog.New(d.Client, catalog.Config{
		TTL:    cfg.Catalog.DefinitionsTTL,
		Clock:  clk,
		Logger: logger,
	})
	d.Logs = logquery.New(d.Client, logger)

	if cfg.Recorder.Enabled || opts.Record {
		history, err := OpenHistory(cfg)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.History = history
		d.recorder = store.NewRecorder(history, logger)
	}

	if cfg.Notify.Enabled || len(opts.Alerts) > 0 {
		ncfg := cfg.Notify
		if !ncfg.Enabled {
			ncfg = config.NotifyConfig{Level: ncfg.Level}
		}
		d.Notifier = notify.NewMultiNotifier(ncfg, logger)
		for _, ch := range opts.Alerts {
			d.Notifier.AddChannel(ch)
		}
		d.watcher = notify.NewWatcher(d.Notifier, logger)
	}

	return d, nil
}

// OpenHistory opens the configured SQLite history, creating its directory.
func OpenHistory(cfg *config.Config) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Recorder.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	history, err := store.NewSQLiteStore(cfg.Recorder.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return history, nil
}

// Run polls the instance list and the selected instance's telemetry until
// ctx is cancelled. Selection changes are forwarded to the telemetry stream
// as they are published.
func (d *Dashboard) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	selections := d.Registry.Subscribe()

	var wg conc.WaitGroup
	wg.Go(func() { _ = d.Registry.Run(ctx) })
	wg.Go(func() { _ = d.Stream.Run(ctx) })
	wg.Go(func() {
		for range selections {
			d.Stream.Notify()
		}
	})
	if d.recorder != nil {
		tel := d.Stream.Subscribe()
		inst := d.Registry.Subscribe()
		wg.Go(func() { _ = d.recorder.Run(ctx, tel, inst) })
	}
	if d.watcher != nil {
		inst := d.Registry.Subscribe()
		tel := d.Stream.Subscribe()
		wg.Go(func() { _ = d.watcher.Run(ctx, inst, tel) })
	}

	d.Logger.Info().Str("backend", d.Client.BaseURL()).Bool("recording", d.recorder != nil).Bool("alerts", d.watcher != nil).Msg("Dashboard started")
	<-ctx.Done()
	wg.Wait()
	d.Logger.Info().Msg("Dashboard stopped")
	return nil
}

// Select changes the selected instance and moves the stream to it.
func (d *Dashboard) Select(id string) bool {
	if !d.Registry.Select(id) {
		return false
	}
	d.Stream.Notify()
	return true
}

// Control runs an optimistic control action.
func (d *Dashboard) Control(ctx context.Context, id string, action models.ControlAction) models.ActionResult {
	return d.Registry.Control(ctx, id, action)
}

// ConfirmDelete completes a pending delete and records its outcome.
func (d *Dashboard) ConfirmDelete(ctx context.Context, token string) models.ActionResult {
	id, _ := d.Registry.PendingDelete(token)
	res := d.Registry.ConfirmDelete(ctx, token)
	if d.History != nil && id != "" {
		outcome := "DELETED"
		if !res.Success {
			outcome = "FAILED"
		}
		entry := store.ControlEntry{
			Timestamp:  d.clock.Now(),
			InstanceID: id,
			Action:     "delete",
			Outcome:    outcome,
			Message:    res.Error,
		}
		if err := d.History.LogControl(ctx, entry); err != nil {
			d.Logger.Warn().Err(err).Msg("Failed to record delete")
		}
	}
	return res
}

// CreateInstance validates and submits a new instance, then refreshes the list.
func (d *Dashboard) CreateInstance(ctx context.Context, req models.CreateInstanceRequest) models.ActionResult {
	if req.InstanceID == "" {
		req.InstanceID = models.SuggestInstanceID(req.StrategyID, req.Symbol, req.Timeframe)
	}
	if err := d.validator.ValidateCreateInstance(req); err != nil {
		return models.ActionResult{Success: false, Error: apperrors.Message(err)}
	}

	msg, err := d.Client.CreateInstance(ctx, req)
	logging.LogControl(d.Logger, req.InstanceID, "create", outcome(err), err)
	if err != nil {
		return models.ActionResult{Success: false, Error: apperrors.Message(err)}
	}
	d.refresh(ctx)
	if msg == "" {
		msg = "Instance " + req.InstanceID + " created"
	}
	return models.ActionResult{Success: true, Message: msg}
}

// InstallStrategy installs a definition and invalidates the catalog.
func (d *Dashboard) InstallStrategy(ctx context.Context, req models.InstallRequest) models.ActionResult {
	if err := d.validator.ValidateInstall(req); err != nil {
		return models.ActionResult{Success: false, Error: apperrors.Message(err)}
	}

	msg, err := d.Client.InstallStrategy(ctx, req)
	logging.LogControl(d.Logger, "", "install", outcome(err), err)
	if err != nil {
		return models.ActionResult{Success: false, Error: apperrors.Message(err)}
	}
	d.Catalog.Invalidate()
	if msg == "" {
		msg = "Strategy installed"
	}
	return models.ActionResult{Success: true, Message: msg}
}

func (d *Dashboard) refresh(ctx context.Context) {
	if _, err := d.Registry.List(ctx); err != nil {
		d.Logger.Warn().Err(err).Msg("Refresh after create failed")
	}
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "accepted"
}

// Effective returns the instance list with live telemetry overlaid on the
// selected entry.
func (d *Dashboard) Effective() []models.Instance {
	st := d.Registry.State()
	tel := d.Stream.State()
	out := st.Instances
	for i := range out {
		if out[i].ID == st.SelectedID && tel.InstanceID == st.SelectedID {
			out[i] = models.EffectiveInstance(out[i], tel.Telemetry)
		}
	}
	return out
}

// Close releases the history database and the mock engine.
func (d *Dashboard) Close() {
	if d.Registry != nil {
		d.Registry.Close()
	}
	if d.Stream != nil {
		d.Stream.Close()
	}
	if d.History != nil {
		if err := d.History.Close(); err != nil {
			d.Logger.Warn().Err(err).Msg("Failed to close history")
		}
	}
	if d.mockSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.mockSrv.Close(ctx)
	}
}
