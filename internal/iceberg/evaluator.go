package iceberg

import (
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/orderflow"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

const (
	// DefaultMinMove is the favourable excursion, in price units, that confirms a zone.
	DefaultMinMove = 15.0
	// DefaultWeakWick is the rejection wick share below which a zone is flagged weak.
	DefaultWeakWick = 0.2

	moveTolerance = 1e-9
)

// EvaluatorConfig tunes the outcome rules.
type EvaluatorConfig struct {
	MinMove  float64
	WeakWick float64
	Memory   time.Duration
}

// Evaluator grades a zone against the price action that followed its detection.
type Evaluator struct {
	cfg EvaluatorConfig
}

// NewEvaluator applies defaults to unset fields.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	if cfg.MinMove <= 0 {
		cfg.MinMove = DefaultMinMove
	}
	if cfg.WeakWick < 0 {
		cfg.WeakWick = DefaultWeakWick
	}
	if cfg.Memory <= 0 {
		cfg.Memory = 3 * day
	}
	return &Evaluator{cfg: cfg}
}

// Evaluate returns the state z should be in after a tick closing at close inside candle.
// z.High and z.Low must already include close.
func (e *Evaluator) Evaluate(z Zone, close float64, candle signal.Candle, now time.Time) State {
	return e.decide(z, close, z.High, z.Low, orderflow.WickStrength(candle, z.Side), now)
}

// Classify grades z over a historical price sequence; the last price is taken as the close.
// An empty sequence leaves the zone where it is.
func (e *Evaluator) Classify(z Zone, prices []float64, candle signal.Candle, now time.Time) State {
	if len(prices) == 0 {
		return z.State
	}
	hi, lo := prices[0], prices[0]
	for _, p := range prices[1:] {
		hi = max(hi, p)
		lo = min(lo, p)
	}
	return e.decide(z, prices[len(prices)-1], hi, lo, orderflow.WickStrength(candle, z.Side), now)
}

func (e *Evaluator) decide(z Zone, close, hi, lo, wick float64, now time.Time) State {
	if z.State.Terminal() {
		return z.State
	}
	// a clean break against the zone wins over any excursion on the same tick
	switch z.Side {
	case signal.Buy:
		if close < z.PriceLow {
			return Failed
		}
		if hi-z.Entry() >= e.cfg.MinMove-moveTolerance {
			return Success
		}
	case signal.Sell:
		if close > z.PriceHigh {
			return Failed
		}
		if z.Entry()-lo >= e.cfg.MinMove-moveTolerance {
			return Success
		}
	}
	if !now.Before(z.CreatedAt.Add(e.cfg.Memory)) {
		return Expired
	}
	if wick < e.cfg.WeakWick {
		return Weak
	}
	return Active
}
