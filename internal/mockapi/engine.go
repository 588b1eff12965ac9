// Package mockapi is an in-process stand-in for the trading engine backend.
// It serves generated instances, telemetry, charts, catalog entries and logs
// over the same HTTP surface the dashboard consumes.
package mockapi

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marko-dashboard/internal/clock"
	"marko-dashboard/internal/models"
)

// Config configures the mock engine.
type Config struct {
	Clock clock.Clock
	// Warmup is how long a started instance reports warming up.
	Warmup time.Duration
	// Latency delays every response.
	Latency time.Duration
	Seed    uint64
	Logger  zerolog.Logger
}

// DefaultConfig returns the mock defaults.
func DefaultConfig() Config {
	return Config{
		Clock:  clock.Real{},
		Warmup: 8 * time.Second,
		Seed:   uint64(time.Now().UnixNano()),
		Logger: zerolog.Nop(),
	}
}

type instance struct {
	models.Instance
	startedAt time.Time
}

type definition struct {
	entry  models.CatalogEntry
	fields []string
	params map[string]interface{}
	readme string
}

// Engine holds the mock backend state.
type Engine struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger
	secret []byte

	mu          sync.Mutex
	rng         *rand.Rand
	instances   []*instance
	definitions []definition
	logs        []models.LogRecord
	users       map[string]string
	rejectNext  string
	startedAt   time.Time
}

var symbols = []string{"BTC/USD", "ETH/USD", "SOL/USD"}

// New creates a mock engine seeded with three instances.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = def.Warmup
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}

	now := cfg.Clock.Now()
	e := &Engine{
		cfg:       cfg,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With().Str("component", "mockapi").Logger(),
		secret:    []byte(uuid.NewString()),
		startedAt: now,
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1|1)),
		users:     map[string]string{"demo@marko.local": "demo"},
		instances: []*instance{
			{Instance: models.Instance{
				ID: "Trend_BTC_1h", Symbol: "BTC/USD", Timeframe: models.Timeframe1h, Status: models.StatusRunning,
				ActivePnl: 1250.50, BrokerType: models.BrokerPaper,
				Params: map[string]interface{}{"window": 20, "multiplier": 2.0},
			}, startedAt: now},
			{Instance: models.Instance{
				ID: "MeanRev_ETH_15m", Symbol: "ETH/USD", Timeframe: models.Timeframe15m, Status: models.StatusRunning,
				ActivePnl: -320.10, BrokerType: models.BrokerPaper,
				Params: map[string]interface{}{"rsi_period": 14, "overbought": 70},
			}, startedAt: now},
			{Instance: models.Instance{
				ID: "Arb_SOL_5m", Symbol: "SOL/USD", Timeframe: models.Timeframe5m, Status: models.StatusStopped,
				ActivePnl: 45.00, BrokerType: models.BrokerPaper,
				Params: map[string]interface{}{"spread_threshold": 0.5},
			}},
		},
		definitions: seedDefinitions(),
	}
	e.seedLogs(now)
	return e
}

func seedDefinitions() []definition {
	return []definition{
		{
			entry: models.CatalogEntry{
				ID: "trend", Name: "Trend Follower", Version: "1.4.0", Author: "marko",
				Entrypoint: "strategies.trend:TrendStrategy", Description: "Breakout trend following with volatility bands.",
			},
			fields: []string{"markov_state", "phi", "volatility"},
			params: map[string]interface{}{"window": 20, "multiplier": 2.0},
			readme: "# Trend Follower\n\nEnters on band breakouts and scales risk by regime.\n",
		},
		{
			entry: models.CatalogEntry{
				ID: "meanrev", Name: "Mean Reversion", Version: "0.9.2", Author: "marko",
				Entrypoint: "strategies.meanrev:MeanReversion", Description: "RSI mean reversion on short timeframes.",
			},
			fields: []string{"markov_state", "conviction_score"},
			params: map[string]interface{}{"rsi_period": 14, "overbought": 70, "oversold": 30},
			readme: "# Mean Reversion\n\nFades RSI extremes.\n",
		},
		{
			entry: models.CatalogEntry{
				ID: "arb", Name: "Spread Arbitrage", Version: "0.3.0", Author: "community",
				Entrypoint: "strategies.arb:SpreadArb", Description: "Cross-venue spread capture.",
			},
			fields: []string{"phi"},
			params: map[string]interface{}{"spread_threshold": 0.5},
		},
	}
}

var seedMessages = []struct {
	level   models.LogLevel
	module  string
	message string
}{
	{models.LevelInfo, "engine", "Heartbeat received"},
	{models.LevelDebug, "feed", "Bar processed"},
	{models.LevelWarn, "exchange", "High latency detected on exchange"},
	{models.LevelInfo, "strategy", "Strategy state updated to VOLATILITY_EXPANSION"},
	{models.LevelError, "broker", "Order rejected: insufficient margin"},
	{models.LevelInfo, "portfolio", "Rebalanced pocket"},
}

func (e *Engine) seedLogs(now time.Time) {
	for i := 0; i < 120; i++ {
		m := seedMessages[i%len(seedMessages)]
		e.logs = append(e.logs, models.LogRecord{
			Timestamp:  now.Add(-time.Duration(120-i) * 30 * time.Second),
			Level:      m.level,
			Message:    m.message,
			Module:     m.module,
			InstanceID: e.instances[i%len(e.instances)].ID,
		})
	}
}

func (e *Engine) logLocked(level models.LogLevel, instanceID, format string, args ...interface{}) {
	e.logs = append(e.logs, models.LogRecord{
		Timestamp:  e.clock.Now(),
		Level:      level,
		Message:    fmt.Sprintf(format, args...),
		Module:     "admin",
		InstanceID: instanceID,
	})
}

func (e *Engine) findLocked(id string) *instance {
	for _, inst := range e.instances {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

func (e *Engine) warmingLocked(inst *instance) (bool, float64, time.Duration) {
	if !inst.Status.IsRunning() && !inst.Status.IsStarting() {
		return false, 0, 0
	}
	elapsed := e.clock.Now().Sub(inst.startedAt)
	if elapsed >= e.cfg.Warmup {
		return false, 1, 0
	}
	return true, float64(elapsed) / float64(e.cfg.Warmup), e.cfg.Warmup - elapsed
}

// listedStatus is the status reported by the instance list: a running
// instance still inside its warmup window is listed as STARTING.
func (e *Engine) listedStatus(inst *instance) models.InstanceStatus {
	if warming, _, _ := e.warmingLocked(inst); warming {
		return models.StatusStarting
	}
	return inst.Status
}

// Instances returns the current instance list as served by the engine.
func (e *Engine) Instances() []models.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		m := inst.Instance.Clone()
		m.Status = e.listedStatus(inst)
		out = append(out, m)
	}
	return out
}

// RejectNextControl makes the next control command fail with message.
func (e *Engine) RejectNextControl(message string) {
	e.mu.Lock()
	e.rejectNext = message
	e.mu.Unlock()
}

func (e *Engine) control(id string, action models.ControlAction) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.findLocked(id)
	if inst == nil {
		return "", errNotFound
	}
	if msg := e.rejectNext; msg != "" {
		e.rejectNext = ""
		e.logLocked(models.LevelError, id, "Control %s rejected: %s", action, msg)
		return "", rejection(msg)
	}

	switch action {
	case models.ActionStart:
		if !inst.Status.IsRunning() {
			inst.startedAt = e.clock.Now()
		}
	case models.ActionStop:
		inst.startedAt = time.Time{}
	}
	inst.Status = action.TargetStatus()
	e.logLocked(models.LevelInfo, id, "Strategy %s %s", id, action)
	return fmt.Sprintf("Strategy %s %s", id, pastTense(action)), nil
}

func pastTense(a models.ControlAction) string {
	switch a {
	case models.ActionStop:
		return "stopped"
	case models.ActionPause:
		return "paused"
	}
	return "started"
}

func (e *Engine) deleteInstance(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, inst := range e.instances {
		if inst.ID == id {
			e.instances = append(e.instances[:i], e.instances[i+1:]...)
			e.logLocked(models.LevelWarn, id, "Instance %s deleted", id)
			return nil
		}
	}
	return errNotFound
}

func (e *Engine) createInstance(req models.CreateInstanceRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.findLocked(req.InstanceID) != nil {
		return rejection("instance " + req.InstanceID + " already exists")
	}
	if !e.hasDefinitionLocked(req.StrategyID) {
		return rejection("unknown strategy " + req.StrategyID)
	}

	broker := models.BrokerPaper
	if t, ok := req.BrokerConfig["type"].(string); ok && strings.EqualFold(t, string(models.BrokerLive)) {
		broker = models.BrokerLive
	}
	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	e.instances = append(e.instances, &instance{Instance: models.Instance{
		ID:         req.InstanceID,
		Symbol:     req.Symbol,
		Timeframe:  req.Timeframe,
		Status:     models.StatusStopped,
		BrokerType: broker,
		Params:     params,
	}})
	e.logLocked(models.LevelInfo, req.InstanceID, "Instance created from %s", req.StrategyID)
	return nil
}

func (e *Engine) hasDefinitionLocked(id string) bool {
	for _, d := range e.definitions {
		if d.entry.ID == id {
			return true
		}
	}
	return false
}

func (e *Engine) install(req models.InstallRequest) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := strings.TrimSuffix(strings.TrimRight(req.RepositoryURL, "/"), ".git")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	id := strings.ToLower(name)
	if !e.hasDefinitionLocked(id) {
		e.definitions = append(e.definitions, definition{
			entry: models.CatalogEntry{
				ID: id, Name: name, Version: req.Version, Author: "external",
				Entrypoint: "strategies." + id + ":Strategy",
			},
			fields: []string{},
			params: map[string]interface{}{},
		})
	}
	e.logLocked(models.LevelInfo, "", "Installed %s@%s", req.RepositoryURL, req.Version)
	return id
}

func (e *Engine) catalog() []models.CatalogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.CatalogEntry, 0, len(e.definitions))
	for _, d := range e.definitions {
		out = append(out, d.entry)
	}
	return out
}

func (e *Engine) definition(id string) (definition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.definitions {
		if d.entry.ID == id {
			return d, true
		}
	}
	return definition{}, false
}

// events filters and pages the log, newest first.
func (e *Engine) events(f models.LogFilter) models.LogPage {
	e.mu.Lock()
	defer e.mu.Unlock()

	matched := make([]models.LogRecord, 0, len(e.logs))
	for _, r := range e.logs {
		if f.Level != "" && r.Level != f.Level {
			continue
		}
		if f.InstanceID != "" && r.InstanceID != f.InstanceID {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	page := models.LogPage{Total: len(matched), Limit: f.Limit, Offset: f.Offset, Logs: []models.LogRecord{}}
	if f.Offset < len(matched) {
		end := f.Offset + f.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Logs = matched[f.Offset:end]
	}
	return page
}
