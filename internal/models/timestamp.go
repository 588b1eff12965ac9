package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTime accepts RFC 3339 strings, timezone-less ISO strings (read as UTC)
// and epoch numbers in seconds or milliseconds. It returns nil for anything else.
func ParseTime(v interface{}) *time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				parsed = parsed.UTC()
				return &parsed
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return ParseTime(f)
		}
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
			return nil
		}
		var parsed time.Time
		if t >= 1e12 {
			parsed = time.UnixMilli(int64(t)).UTC()
		} else {
			sec, frac := math.Modf(t)
			parsed = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		return &parsed
	case int64:
		return ParseTime(float64(t))
	case int:
		return ParseTime(float64(t))
	}
	return nil
}
