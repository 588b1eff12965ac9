package logquery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"marko-dashboard/internal/models"
)

// memorySource filters and pages an in-memory log like the backend does.
type memorySource struct {
	records []models.LogRecord
	calls   []models.LogFilter
	err     error
	sloppy  bool
}

func (m *memorySource) QueryEvents(ctx context.Context, f models.LogFilter) (models.LogPage, error) {
	m.calls = append(m.calls, f)
	if m.err != nil {
		return models.LogPage{}, m.err
	}
	if m.sloppy {
		return models.LogPage{Total: len(m.records), Limit: f.Limit, Offset: f.Offset, Logs: m.records}, nil
	}

	var matched []models.LogRecord
	for _, r := range m.records {
		if f.Level != "" && r.Level != f.Level {
			continue
		}
		if f.InstanceID != "" && r.InstanceID != f.InstanceID {
			continue
		}
		matched = append(matched, r)
	}
	page := models.LogPage{Total: len(matched), Limit: f.Limit, Offset: f.Offset, Logs: []models.LogRecord{}}
	if f.Offset < len(matched) {
		end := f.Offset + f.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Logs = matched[f.Offset:end]
	}
	return page, nil
}

var levels = []models.LogLevel{models.LevelDebug, models.LevelInfo, models.LevelWarn, models.LevelError}

func makeRecords(n int) []models.LogRecord {
	out := make([]models.LogRecord, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = models.LogRecord{
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Level:      levels[i%len(levels)],
			Message:    fmt.Sprintf("event %d", i),
			Module:     "engine",
			InstanceID: fmt.Sprintf("inst-%d", i%3),
		}
	}
	return out
}

func TestErrorPagination(t *testing.T) {
	src := &memorySource{records: makeRecords(400)}
	q := New(src, zerolog.Nop())

	page, err := q.Query(context.Background(), models.LogFilter{Limit: 50, Offset: 50, Level: models.LevelError})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(page.Logs) > 50 {
		t.Errorf("page size = %d", len(page.Logs))
	}
	for _, r := range page.Logs {
		if r.Level != models.LevelError {
			t.Fatalf("non-ERROR record in page: %+v", r)
		}
	}
	if page.Total != 100 {
		t.Errorf("Total = %d, want full filtered count 100", page.Total)
	}
	if !page.HasNext() {
		t.Error("second of two pages should not be last")
	}
}

func TestProperty_PagesRespectFilter(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("pages hold only matching records and never exceed the limit", prop.ForAll(
		func(n, limit, offset, lvl int, sloppy bool) bool {
			src := &memorySource{records: makeRecords(n), sloppy: sloppy}
			q := New(src, zerolog.Nop())
			level := levels[lvl]

			page, err := q.Query(context.Background(), models.LogFilter{Limit: limit, Offset: offset, Level: level})
			if err != nil {
				return false
			}
			if len(page.Logs) > page.Limit || page.Limit > MaxLimit || page.Limit < 1 {
				return false
			}
			for _, r := range page.Logs {
				if r.Level != level {
					return false
				}
			}
			return page.Total >= len(page.Logs)
		},
		gen.IntRange(0, 300), gen.IntRange(-5, 700), gen.IntRange(-10, 200), gen.IntRange(0, 3), gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestEveryQueryHitsBackend(t *testing.T) {
	src := &memorySource{records: makeRecords(10)}
	q := New(src, zerolog.Nop())
	f := models.LogFilter{Limit: 5}

	q.Query(context.Background(), f)
	q.Query(context.Background(), f)
	q.Query(context.Background(), Next(f))

	if len(src.calls) != 3 {
		t.Fatalf("backend calls = %d, want 3", len(src.calls))
	}
	if src.calls[2].Offset != 5 {
		t.Errorf("next page offset = %d", src.calls[2].Offset)
	}
}

func TestNormalize(t *testing.T) {
	f := Normalize(models.LogFilter{Limit: 0, Offset: -3, Level: "warning"})
	if f.Limit != DefaultLimit || f.Offset != 0 || f.Level != models.LevelWarn {
		t.Errorf("Normalize() = %+v", f)
	}
	if f := Normalize(models.LogFilter{Limit: 10_000}); f.Limit != MaxLimit {
		t.Errorf("limit = %d, want %d", f.Limit, MaxLimit)
	}
	if f := Prev(models.LogFilter{Limit: 50, Offset: 20}); f.Offset != 0 {
		t.Errorf("Prev offset = %d", f.Offset)
	}
}

func TestQueryErrorReturnsEmptyPage(t *testing.T) {
	src := &memorySource{err: errors.New("unreachable")}
	q := New(src, zerolog.Nop())

	page, err := q.Query(context.Background(), models.LogFilter{Limit: 20, Offset: 40})
	if err == nil {
		t.Fatal("expected error")
	}
	if page.Logs == nil || page.Limit != 20 || page.Offset != 40 {
		t.Errorf("page = %+v", page)
	}
}

func TestInstanceFilterForwarded(t *testing.T) {
	src := &memorySource{records: makeRecords(30)}
	q := New(src, zerolog.Nop())

	page, _ := q.Query(context.Background(), models.LogFilter{InstanceID: "inst-1"})
	if page.Total != 10 {
		t.Errorf("Total = %d, want 10", page.Total)
	}
	for _, r := range page.Logs {
		if r.InstanceID != "inst-1" {
			t.Fatalf("record from %s", r.InstanceID)
		}
	}
}
