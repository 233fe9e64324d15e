package orderflow

import (
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

// CandleBuilder rolls ticks into fixed timeframe OHLC bars.
type CandleBuilder struct {
	timeframe time.Duration
	current   signal.Candle
	started   bool
}

// NewCandleBuilder creates a builder for the given timeframe (5m when non-positive).
func NewCandleBuilder(timeframe time.Duration) *CandleBuilder {
	if timeframe <= 0 {
		timeframe = 5 * time.Minute
	}
	return &CandleBuilder{timeframe: timeframe}
}

// Add folds t into the open bar, starting a new bar when t crosses the timeframe boundary.
func (b *CandleBuilder) Add(t signal.Tick) signal.Candle {
	start := t.Ts.Truncate(b.timeframe)
	if !b.started || !start.Equal(b.current.Start) {
		b.current = signal.Candle{Start: start, Open: t.Price, High: t.Price, Low: t.Price, Close: t.Price}
		b.started = true
		return b.current
	}
	if t.Price > b.current.High {
		b.current.High = t.Price
	}
	if t.Price < b.current.Low {
		b.current.Low = t.Price
	}
	b.current.Close = t.Price
	return b.current
}

// Current returns the open bar.
func (b *CandleBuilder) Current() (signal.Candle, bool) {
	return b.current, b.started
}

// WickStrength measures rejection on the side facing a zone: the upper wick for a SELL zone,
// the lower wick for a BUY zone, as a share of the bar range. A flat bar reports 1.
func WickStrength(c signal.Candle, side signal.Side) float64 {
	rng := c.High - c.Low
	if rng <= 0 {
		return 1
	}
	var wick float64
	switch side {
	case signal.Sell:
		wick = c.High - max(c.Open, c.Close)
	case signal.Buy:
		wick = min(c.Open, c.Close) - c.Low
	default:
		return 1
	}
	return clamp(wick/rng, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
