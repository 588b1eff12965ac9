package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"marko-dashboard/internal/clock"
	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/logging"
	"marko-dashboard/internal/models"
	"marko-dashboard/internal/stream"
)

// Fetcher is the part of the API client the stream polls.
type Fetcher interface {
	FetchTelemetry(ctx context.Context, instanceID string) ([]byte, error)
	FetchChart(ctx context.Context, instanceID string, limit int, symbol string) ([]byte, error)
}

// Config holds stream settings.
type Config struct {
	// Interval is the polling cadence of the telemetry+chart pair.
	Interval time.Duration
	// MinInterval is the floor between two fetches of the same endpoint.
	MinInterval time.Duration
	// BarsLimit is the initial number of chart bars requested.
	BarsLimit int
	Clock     clock.Clock
	Logger    zerolog.Logger
}

// DefaultConfig returns the default stream configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		MinInterval: 2 * time.Second,
		BarsLimit:   100,
		Clock:       clock.Real{},
		Logger:      zerolog.Nop(),
	}
}

// State is the published view of the selected instance's telemetry.
// A zero InstanceID means the legacy single-strategy endpoints are polled.
type State struct {
	InstanceID   string                  `json:"instanceId"`
	Settings     models.ChartSettings    `json:"settings"`
	Telemetry    *models.TelemetryRecord `json:"telemetry"`
	Chart        *models.ChartData       `json:"chart"`
	Loading      bool                    `json:"loading"`
	ChartLoading bool                    `json:"chartLoading"`
	Error        string                  `json:"error,omitempty"`
	ChartError   string                  `json:"chartError,omitempty"`
	// Stale is set while the most recent telemetry poll has failed.
	Stale        bool      `json:"stale"`
	LastUpdated  time.Time `json:"lastUpdated"`
	ChartUpdated time.Time `json:"chartUpdated"`
	Generation   uint64    `json:"generation"`
}

// Stats counts requests for diagnostics.
type Stats struct {
	TelemetryRequests int
	ChartRequests     int
	Throttled         int
	Discarded         int
}

// key identifies what the stream is polling. Any change resets all state.
type key struct {
	instanceID string
	symbol     string
	barsLimit  int
}

type endpoint struct {
	limiter  *rate.Limiter
	inFlight bool
}

// Stream polls telemetry and chart data for the selected instance.
type Stream struct {
	fetcher  Fetcher
	selected func() string
	cfg      Config
	clock    clock.Clock
	logger   zerolog.Logger
	hub      *stream.Hub[State]
	wake     chan struct{}

	mu        sync.Mutex
	key       key
	gen       uint64
	alive     bool
	state     State
	telemetry endpoint
	chart     endpoint
	stats     Stats
}

// New creates a stream. selected is read at send time and again at apply
// time so a response for a previously selected instance is never applied.
// A nil selected polls the legacy endpoints.
func New(fetcher Fetcher, selected func() string, cfg Config) *Stream {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.BarsLimit <= 0 {
		cfg.BarsLimit = def.BarsLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if selected == nil {
		selected = func() string { return "" }
	}

	s := &Stream{
		fetcher:  fetcher,
		selected: selected,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   logging.WithComponent(cfg.Logger, "telemetry"),
		hub:      stream.NewHub[State](),
		wake:     make(chan struct{}, 1),
		alive:    true,
	}
	s.rekeyLocked(key{instanceID: selected(), barsLimit: cfg.BarsLimit})
	s.hub.Publish(s.state)
	return s
}

func (s *Stream) newLimiter() *rate.Limiter {
	if s.cfg.MinInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(s.cfg.MinInterval), 1)
}

// rekeyLocked resets all local state for a new selection. The reset state is
// loading until the first fetches under the new key complete.
// In-flight requests of the old key are left to finish and are discarded.
func (s *Stream) rekeyLocked(k key) {
	s.key = k
	s.gen++
	s.telemetry = endpoint{limiter: s.newLimiter()}
	s.chart = endpoint{limiter: s.newLimiter()}
	s.state = State{
		InstanceID:   k.instanceID,
		Settings:     models.ChartSettings{Symbol: k.symbol, BarsLimit: k.barsLimit},
		Loading:      true,
		ChartLoading: true,
		Generation:   s.gen,
	}
}

// syncLocked re-reads the selection accessor and re-keys when it moved.
func (s *Stream) syncLocked() bool {
	id := s.selected()
	if id == s.key.instanceID {
		return false
	}
	s.logger.Debug().Str("from", s.key.instanceID).Str("to", id).Msg("Selection changed")
	// A new instance starts with no chart symbol so it can be auto-selected.
	s.rekeyLocked(key{instanceID: id, barsLimit: s.key.barsLimit})
	return true
}

func (s *Stream) publishLocked() {
	s.hub.Publish(s.state)
}

// Notify tells the stream the selection may have changed. If it did, state
// is reset and a fresh fetch pair is issued by the polling loop.
func (s *Stream) Notify() {
	s.mu.Lock()
	changed := s.alive && s.syncLocked()
	if changed {
		s.publishLocked()
	}
	s.mu.Unlock()
	if changed {
		s.kick()
	}
}

func (s *Stream) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetChartSymbol selects the charted symbol. A change resets state and refetches.
func (s *Stream) SetChartSymbol(symbol string) {
	s.mu.Lock()
	if !s.alive || symbol == s.key.symbol {
		s.mu.Unlock()
		return
	}
	k := s.key
	k.symbol = symbol
	s.rekeyLocked(k)
	s.publishLocked()
	s.mu.Unlock()
	s.kick()
}

// SetBarsLimit changes the number of chart bars. A change resets state and refetches.
func (s *Stream) SetBarsLimit(limit int) {
	if limit <= 0 {
		return
	}
	s.mu.Lock()
	if !s.alive || limit == s.key.barsLimit {
		s.mu.Unlock()
		return
	}
	k := s.key
	k.barsLimit = limit
	s.rekeyLocked(k)
	s.publishLocked()
	s.mu.Unlock()
	s.kick()
}

// RefreshTelemetry fetches telemetry once unless the endpoint was fetched
// within the minimum interval or a request is already in flight.
// It reports whether a request was issued.
func (s *Stream) RefreshTelemetry(ctx context.Context) bool {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return false
	}
	if s.syncLocked() {
		s.publishLocked()
	}
	if s.telemetry.inFlight || !s.telemetry.limiter.AllowN(s.clock.Now(), 1) {
		s.stats.Throttled++
		s.mu.Unlock()
		return false
	}
	s.telemetry.inFlight = true
	s.stats.TelemetryRequests++
	id, gen := s.key.instanceID, s.gen
	if s.state.Telemetry == nil {
		s.state.Loading = true
		s.publishLocked()
	}
	s.mu.Unlock()

	body, err := s.fetcher.FetchTelemetry(ctx, id)
	var rec models.TelemetryRecord
	if err == nil {
		rec, err = NormalizeBytes(body, id, s.clock.Now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen == s.gen {
		s.telemetry.inFlight = false
		s.state.Loading = false
	}
	if !s.applicableLocked(id, gen) {
		s.stats.Discarded++
		s.logger.Debug().Str("instance_id", id).Msg("Discarded stale telemetry response")
		return true
	}

	logging.LogPoll(s.logger, "telemetry", id, err)
	if err != nil {
		s.state.Error = apperrors.Message(err)
		s.state.Stale = true
	} else {
		s.state.Telemetry = &rec
		s.state.Error = ""
		s.state.Stale = false
		s.state.LastUpdated = rec.FetchedAt
	}
	s.publishLocked()
	return true
}

// RefreshChart fetches chart data once, with the same floor as RefreshTelemetry.
func (s *Stream) RefreshChart(ctx context.Context) bool {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return false
	}
	if s.syncLocked() {
		s.publishLocked()
	}
	if s.chart.inFlight || !s.chart.limiter.AllowN(s.clock.Now(), 1) {
		s.stats.Throttled++
		s.mu.Unlock()
		return false
	}
	s.chart.inFlight = true
	s.stats.ChartRequests++
	k, gen := s.key, s.gen
	if s.state.Chart == nil {
		s.state.ChartLoading = true
		s.publishLocked()
	}
	s.mu.Unlock()

	body, err := s.fetcher.FetchChart(ctx, k.instanceID, k.barsLimit, k.symbol)
	var chart *models.ChartData
	if err == nil {
		chart, err = NormalizeChart(body)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen == s.gen {
		s.chart.inFlight = false
		s.state.ChartLoading = false
	}
	if !s.applicableLocked(k.instanceID, gen) {
		s.stats.Discarded++
		s.logger.Debug().Str("instance_id", k.instanceID).Msg("Discarded stale chart response")
		return true
	}

	logging.LogPoll(s.logger, "chart", k.instanceID, err)
	if err != nil {
		s.state.ChartError = apperrors.Message(err)
		s.publishLocked()
		return true
	}

	if chart.RejectedBars > 0 {
		s.logger.Warn().Str("instance_id", k.instanceID).Int("rejected", chart.RejectedBars).Msg("Dropped invalid chart bars")
	}
	s.state.Chart = chart
	s.state.ChartError = ""
	s.state.ChartUpdated = s.clock.Now()

	if next, ok := autoSymbol(k.symbol, chart); ok {
		if next == chart.Symbol {
			// The data already belongs to the chosen symbol; keep it.
			s.key.symbol = next
			s.state.Settings.Symbol = next
		} else {
			nk := s.key
			nk.symbol = next
			s.rekeyLocked(nk)
			defer s.kick()
		}
	}
	s.publishLocked()
	return true
}

// applicableLocked reports whether a response for id fetched under gen may still
// be applied: the stream is live, the key has not changed and the selection
// accessor still names id.
func (s *Stream) applicableLocked(id string, gen uint64) bool {
	return s.alive && gen == s.gen && s.selected() == id
}

// autoSymbol picks a chart symbol when the current one is unset or not offered.
func autoSymbol(current string, chart *models.ChartData) (string, bool) {
	if len(chart.AvailableSymbols) == 0 {
		if current == "" && chart.Symbol != "" {
			return chart.Symbol, true
		}
		return "", false
	}
	if current != "" && chart.ContainsSymbol(current) {
		return "", false
	}
	next := chart.Symbol
	if next == "" {
		next = chart.AvailableSymbols[0]
	}
	if next == current {
		return "", false
	}
	return next, true
}

// Run polls until ctx is cancelled. Each tick issues the telemetry and chart
// fetches concurrently without waiting for them; a selection change issues
// the next pair immediately and restarts the interval.
func (s *Stream) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	defer wg.Wait()
	defer s.Close()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Telemetry polling started")
	for {
		s.Notify()
		wg.Go(func() { s.RefreshTelemetry(ctx) })
		wg.Go(func() { s.RefreshChart(ctx) })

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Telemetry polling stopped")
			return nil
		case <-s.wake:
		case <-s.clock.After(s.cfg.Interval):
		}
	}
}

// Close stops the stream. Responses arriving afterwards are dropped.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return
	}
	s.alive = false
	s.hub.Close()
}

// State returns the current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns request counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Subscribe returns a channel receiving every published state, starting with the current one.
func (s *Stream) Subscribe() <-chan State {
	return s.hub.Subscribe()
}

// Unsubscribe releases a subscription.
func (s *Stream) Unsubscribe(ch <-chan State) {
	s.hub.Unsubscribe(ch)
}
