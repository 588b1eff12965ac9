package cli

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := FormatAge(time.Time{}, now); got != "never" {
		t.Errorf("zero time = %q", got)
	}
	if got := FormatAge(now.Add(-90*time.Second), now); got != "1m 30s ago" {
		t.Errorf("FormatAge = %q", got)
	}
}

func TestFormatOptional(t *testing.T) {
	if got := FormatOptional(nil, 2); got != "-" {
		t.Errorf("nil = %q", got)
	}
	v := 0.12345
	if got := FormatOptional(&v, 3); got != "0.123" {
		t.Errorf("FormatOptional = %q", got)
	}
}

func TestFormatProgressClamps(t *testing.T) {
	if got := FormatProgress(-1, 4); got != "░░░░ 0%" {
		t.Errorf("below range = %q", got)
	}
	if got := FormatProgress(2, 4); got != "████ 100%" {
		t.Errorf("above range = %q", got)
	}
	if got := FormatProgress(0.5, 4); got != "██░░ 50%" {
		t.Errorf("half = %q", got)
	}
}

func TestProperty_TruncateString(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("result never exceeds the limit", prop.ForAll(
		func(s string, max int) bool {
			return utf8.RuneCountInString(TruncateString(s, max)) <= max
		},
		gen.AnyString(),
		gen.IntRange(0, 40),
	))

	properties.Property("short strings are unchanged", prop.ForAll(
		func(s string) bool {
			return TruncateString(s, utf8.RuneCountInString(s)) == s
		},
		gen.AlphaString(),
	))

	properties.Property("truncated strings end with an ellipsis", prop.ForAll(
		func(s string, max int) bool {
			out := TruncateString(s, max)
			if utf8.RuneCountInString(s) <= max {
				return out == s
			}
			return strings.HasSuffix(out, "...")
		},
		gen.AlphaString(),
		gen.IntRange(4, 20),
	))

	properties.TestingRun(t)
}
