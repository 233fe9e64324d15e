// Package risk holds the session risk store read by the decision gate and the sizing rules.
package risk

// Limits gate trading on recorded losses and size positions from the balance.
type Limits struct {
	DailyLossLimit int
	RiskPct        float64
	StopPoints     float64
}

const (
	ReasonLocked    = "session locked"
	ReasonLossLimit = "daily loss limit reached"
)

// Blocks lists the session predicates that forbid a trade, lock first.
func (l Limits) Blocks(state SessionState) []string {
	var out []string
	if state.Locked {
		out = append(out, ReasonLocked)
	}
	if state.Losses >= l.DailyLossLimit {
		out = append(out, ReasonLossLimit)
	}
	return out
}

// Allow reports whether the session may still trade.
func (l Limits) Allow(state SessionState) bool {
	return len(l.Blocks(state)) == 0
}

// RiskAmount is the cash put at risk on one trade.
func (l Limits) RiskAmount(balance float64) float64 {
	if balance <= 0 || l.RiskPct <= 0 {
		return 0
	}
	return balance * l.RiskPct
}

// PositionSize is risk_amount / stop_points; zero when either side is unusable.
func (l Limits) PositionSize(balance float64) float64 {
	if l.StopPoints <= 0 {
		return 0
	}
	return l.RiskAmount(balance) / l.StopPoints
}
