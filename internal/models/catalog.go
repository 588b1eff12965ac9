package models

import "strings"

// CatalogEntry is the metadata of an installable strategy definition.
type CatalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Author      string `json:"author"`
	Entrypoint  string `json:"entrypoint"`
	Description string `json:"description"`
}

// Matches reports a case-insensitive substring match on id or name.
func (e CatalogEntry) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.ID), q) || strings.Contains(strings.ToLower(e.Name), q)
}

// FilterCatalog returns the entries matching query.
func FilterCatalog(entries []CatalogEntry, query string) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Matches(query) {
			out = append(out, e)
		}
	}
	return out
}

// TelemetrySchema describes which telemetry fields a definition reports
// and the parameters a new instance starts with.
type TelemetrySchema struct {
	TelemetryFields []string               `json:"telemetryFields"`
	DefaultParams   map[string]interface{} `json:"defaultParams"`
}
