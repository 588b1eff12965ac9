package telemetry

import (
	"math"
	"strconv"
	"strings"
	"time"

	"marko-dashboard/internal/models"
)

// object is a decoded JSON object. Lookups accept several spellings of a key
// because the backend has shipped both snake_case and camelCase payloads.
type object map[string]interface{}

func (o object) has(keys ...string) bool {
	for _, k := range keys {
		if v, ok := o[k]; ok && v != nil {
			return true
		}
	}
	return false
}

func (o object) value(keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := o[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (o object) obj(keys ...string) object {
	if m, ok := o.value(keys...).(map[string]interface{}); ok {
		return object(m)
	}
	return nil
}

func (o object) list(keys ...string) []interface{} {
	if l, ok := o.value(keys...).([]interface{}); ok {
		return l
	}
	return nil
}

// objects returns the object elements of a list, skipping anything else.
func (o object) objects(keys ...string) []object {
	var out []object
	for _, v := range o.list(keys...) {
		if m, ok := v.(map[string]interface{}); ok {
			out = append(out, object(m))
		}
	}
	return out
}

func (o object) str(def string, keys ...string) string {
	switch v := o.value(keys...).(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return def
}

// num returns a finite number, or nil when absent or not numeric.
func (o object) num(keys ...string) *float64 {
	var f float64
	switch v := o.value(keys...).(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func (o object) float(def float64, keys ...string) float64 {
	if f := o.num(keys...); f != nil {
		return *f
	}
	return def
}

func (o object) boolean(keys ...string) bool {
	switch v := o.value(keys...).(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	}
	return false
}

func (o object) time(keys ...string) *time.Time {
	return models.ParseTime(o.value(keys...))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
