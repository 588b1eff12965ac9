package models

import (
	"math"
	"time"
)

// PositionSide is the direction of the current chart position.
type PositionSide string

const (
	SideFlat  PositionSide = "FLAT"
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// ChartData holds OHLCV bars plus trade overlays for one symbol.
type ChartData struct {
	Symbol           string        `json:"symbol"`
	Timeframe        Timeframe     `json:"timeframe"`
	AvailableSymbols []string      `json:"availableSymbols"`
	Bars             []Bar         `json:"bars"`
	Overlays         ChartOverlays `json:"overlays"`
	// RejectedBars counts bars dropped for violating the OHLC envelope.
	RejectedBars int `json:"rejectedBars"`
}

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Valid reports whether low <= min(open, close) and high >= max(open, close).
func (b Bar) Valid() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Low <= math.Min(b.Open, b.Close) && b.High >= math.Max(b.Open, b.Close)
}

// ChartOverlays carries entry/exit markers and the open position.
type ChartOverlays struct {
	Entries         []Marker        `json:"entries"`
	Exits           []Marker        `json:"exits"`
	CurrentPosition CurrentPosition `json:"currentPosition"`
}

// Marker is a trade marker drawn on the chart.
type Marker struct {
	Timestamp time.Time `json:"ts"`
	Price     float64   `json:"price"`
	Side      string    `json:"side,omitempty"`
	Label     string    `json:"label,omitempty"`
}

// CurrentPosition describes the position currently held on the charted symbol.
type CurrentPosition struct {
	Side       PositionSide `json:"side"`
	Size       float64      `json:"size"`
	EntryPrice float64      `json:"entryPrice"`
}

// ContainsSymbol reports whether symbol is listed in the chart's available symbols.
func (c *ChartData) ContainsSymbol(symbol string) bool {
	for _, s := range c.AvailableSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// ChartSettings is the user-controlled chart selection.
type ChartSettings struct {
	Symbol    string `json:"symbol"`
	BarsLimit int    `json:"barsLimit"`
}
