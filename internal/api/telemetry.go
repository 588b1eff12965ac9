package api

import (
	"context"
	"net/url"
	"strconv"
)

// FetchTelemetry returns the raw telemetry payload of an instance.
// An empty id targets the legacy single-strategy endpoint.
func (c *Client) FetchTelemetry(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return c.getRaw(ctx, "/api/v1/telemetry", nil)
	}
	return c.getRaw(ctx, "/api/v2/strategies/"+escape(id)+"/telemetry", nil)
}

// FetchChart returns the raw chart payload of an instance.
// An empty id targets the legacy chart endpoint; an empty symbol lets the backend choose.
func (c *Client) FetchChart(ctx context.Context, id string, limit int, symbol string) ([]byte, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if id == "" {
		return c.getRaw(ctx, "/api/chart", q)
	}
	return c.getRaw(ctx, "/api/v2/strategies/"+escape(id)+"/chart", q)
}
