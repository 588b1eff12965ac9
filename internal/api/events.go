package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"marko-dashboard/internal/models"
)

type wireLogRecord struct {
	Timestamp  interface{} `json:"timestamp"`
	Level      string      `json:"level"`
	Message    string      `json:"message"`
	Module     string      `json:"module"`
	InstanceID string      `json:"instance_id"`
}

type wireLogPage struct {
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Logs   []wireLogRecord `json:"logs"`
}

// QueryEvents fetches one page of server-side log records.
func (c *Client) QueryEvents(ctx context.Context, f models.LogFilter) (models.LogPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(f.Limit))
	q.Set("offset", strconv.Itoa(f.Offset))
	if f.Level != "" {
		q.Set("level", string(f.Level))
	}
	if f.InstanceID != "" {
		q.Set("instance_id", f.InstanceID)
	}

	var w wireLogPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/events", q, nil, &w); err != nil {
		return models.LogPage{}, err
	}

	page := models.LogPage{Total: w.Total, Limit: w.Limit, Offset: w.Offset, Logs: make([]models.LogRecord, 0, len(w.Logs))}
	for _, r := range w.Logs {
		var ts time.Time
		if parsed := models.ParseTime(r.Timestamp); parsed != nil {
			ts = *parsed
		}
		page.Logs = append(page.Logs, models.LogRecord{
			Timestamp:  ts,
			Level:      models.ParseLogLevel(r.Level),
			Message:    r.Message,
			Module:     r.Module,
			InstanceID: r.InstanceID,
		})
	}
	return page, nil
}
