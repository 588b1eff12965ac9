package api

import (
	"bytes"
	"context"
	"net/http"

	json "github.com/goccy/go-json"

	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

// CatalogDefinitions lists installable strategy definitions.
// Both a bare array and a {strategies:[...]} envelope are accepted.
func (c *Client) CatalogDefinitions(ctx context.Context) ([]models.CatalogEntry, error) {
	b, err := c.getRaw(ctx, "/api/v2/catalog/strategies", nil)
	if err != nil {
		return nil, err
	}
	return decodeDefinitions(b)
}

func decodeDefinitions(b []byte) ([]models.CatalogEntry, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return []models.CatalogEntry{}, nil
	}

	var list []models.CatalogEntry
	if b[0] == '[' {
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, apperrors.NewShapeError("catalog", err)
		}
	} else {
		var env struct {
			Strategies []models.CatalogEntry `json:"strategies"`
		}
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, apperrors.NewShapeError("catalog", err)
		}
		list = env.Strategies
	}
	if list == nil {
		list = []models.CatalogEntry{}
	}
	return list, nil
}

// wireSchema is a telemetry schema; fields may be names or {name} objects.
type wireSchema struct {
	TelemetryFields []json.RawMessage      `json:"telemetry_fields"`
	FieldsCamel     []json.RawMessage      `json:"telemetryFields"`
	DefaultParams   map[string]interface{} `json:"default_params"`
	ParamsCamel     map[string]interface{} `json:"defaultParams"`
}

func (w wireSchema) model() *models.TelemetrySchema {
	fields := w.TelemetryFields
	if fields == nil {
		fields = w.FieldsCamel
	}
	params := w.DefaultParams
	if params == nil {
		params = w.ParamsCamel
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	s := &models.TelemetrySchema{TelemetryFields: []string{}, DefaultParams: params}
	for _, raw := range fields {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			s.TelemetryFields = append(s.TelemetryFields, name)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Name != "" {
			s.TelemetryFields = append(s.TelemetryFields, obj.Name)
		}
	}
	return s
}

// CatalogSchema fetches the telemetry schema of a definition.
func (c *Client) CatalogSchema(ctx context.Context, id string) (*models.TelemetrySchema, error) {
	var w wireSchema
	if err := c.do(ctx, http.MethodGet, "/api/v2/catalog/strategies/"+escape(id)+"/schema", nil, nil, &w); err != nil {
		return nil, err
	}
	return w.model(), nil
}

// CatalogReadme fetches the free-text documentation of a definition.
// A 404 is reported as ErrNotFound.
func (c *Client) CatalogReadme(ctx context.Context, id string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v2/catalog/strategies/"+escape(id)+"/readme", nil, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/markdown, text/plain")

	b, err := c.doRaw(req)
	if err != nil {
		if apperrors.StatusCode(err) == http.StatusNotFound {
			return "", apperrors.Wrapf(apperrors.ErrNotFound, "readme for %s", id)
		}
		return "", err
	}
	return string(b), nil
}
