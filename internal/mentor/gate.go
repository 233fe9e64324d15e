package mentor

import (
	"strings"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/risk"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

// DefaultThreshold is the minimum fused confidence for a trade.
const DefaultThreshold = 0.70

const (
	ReasonNoZone     = "no active zone"
	ReasonConfidence = "confidence below threshold"
	ReasonLocked     = risk.ReasonLocked
	ReasonLossLimit  = risk.ReasonLossLimit
)

// Gate turns a fused score into TRADE or WAIT.
type Gate struct {
	Threshold float64
	Limits    risk.Limits
}

// NewGate applies the default threshold and loss limit when unset.
func NewGate(threshold float64, limits risk.Limits) Gate {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if limits.DailyLossLimit <= 0 {
		limits.DailyLossLimit = 1
	}
	return Gate{Threshold: threshold, Limits: limits}
}

// Decide evaluates every predicate; a WAIT lists each one that failed.
func (g Gate) Decide(f Fused, price float64, session risk.SessionState, ts time.Time) signal.Decision {
	d := signal.Decision{
		Bias:       f.Bias,
		Price:      price,
		Confidence: f.Confidence,
		Ts:         ts,
	}
	if d.Bias == "" {
		d.Bias = signal.None
	}
	if f.Zone != nil {
		d.ZoneID = f.Zone.ID
	}

	var failed []string
	if f.Zone == nil {
		failed = append(failed, ReasonNoZone)
	} else if f.Confidence < g.Threshold {
		failed = append(failed, ReasonConfidence)
	}
	failed = append(failed, g.Limits.Blocks(session)...)

	if len(failed) > 0 {
		d.Decision = signal.Wait
		d.Reason = strings.Join(failed, "; ")
		return d
	}
	d.Decision = signal.Trade
	d.Reason = "confidence above threshold"
	d.Size = g.Limits.PositionSize(session.Balance)
	return d
}
