// Package logquery pages through server-side log records.
package logquery

import (
	"context"

	"github.com/rs/zerolog"

	"marko-dashboard/internal/logging"
	"marko-dashboard/internal/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Source runs a filtered page request against the backend.
type Source interface {
	QueryEvents(ctx context.Context, f models.LogFilter) (models.LogPage, error)
}

// Query issues one request per call. Nothing is cached; the caller owns the
// offset and refetches whenever the filter or page changes.
type Query struct {
	source Source
	logger zerolog.Logger
}

// New creates a log query.
func New(source Source, logger zerolog.Logger) *Query {
	return &Query{source: source, logger: logging.WithComponent(logger, "logs")}
}

// Normalize clamps the page window and canonicalizes the level.
func Normalize(f models.LogFilter) models.LogFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Level != "" {
		f.Level = models.ParseLogLevel(string(f.Level))
	}
	return f
}

// Query fetches one page. Records the backend returns outside the filter are
// dropped and the page is truncated to the limit.
func (q *Query) Query(ctx context.Context, f models.LogFilter) (models.LogPage, error) {
	f = Normalize(f)
	page, err := q.source.QueryEvents(ctx, f)
	if err != nil {
		q.logger.Warn().Err(err).Int("offset", f.Offset).Str("level", string(f.Level)).Msg("Log query failed")
		return models.LogPage{Limit: f.Limit, Offset: f.Offset, Logs: []models.LogRecord{}}, err
	}

	logs := make([]models.LogRecord, 0, len(page.Logs))
	for _, rec := range page.Logs {
		if f.Level != "" && models.ParseLogLevel(string(rec.Level)) != f.Level {
			continue
		}
		if f.InstanceID != "" && rec.InstanceID != f.InstanceID {
			continue
		}
		logs = append(logs, rec)
		if len(logs) == f.Limit {
			break
		}
	}
	if dropped := len(page.Logs) - len(logs); dropped > 0 {
		q.logger.Debug().Int("dropped", dropped).Msg("Discarded records outside filter")
	}

	total := page.Total
	if total < f.Offset+len(logs) {
		total = f.Offset + len(logs)
	}
	return models.LogPage{Total: total, Limit: f.Limit, Offset: f.Offset, Logs: logs}, nil
}

// Next returns the filter for the following page.
func Next(f models.LogFilter) models.LogFilter {
	f = Normalize(f)
	f.Offset += f.Limit
	return f
}

// Prev returns the filter for the preceding page.
func Prev(f models.LogFilter) models.LogFilter {
	f = Normalize(f)
	f.Offset -= f.Limit
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
