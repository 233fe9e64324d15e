// Package orderflow turns the raw tick stream into rolling aggregates, candles and a per-price volume histogram.
package orderflow

import (
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

// DefaultWindow is the number of ticks the aggregator retains when none is configured.
const DefaultWindow = 50

// Snapshot is the aggregator's view of the current window. Ready is false iff the window is empty.
type Snapshot struct {
	Price   float64 `json:"price"`
	Ready   bool    `json:"ready"`
	BuyQty  int64   `json:"buy_qty"`
	SellQty int64   `json:"sell_qty"`
}

// Aggregator keeps the most recent ticks in a bounded window along with running side totals.
type Aggregator struct {
	window int
	ticks  []signal.Tick
	buy    int64
	sell   int64
}

// NewAggregator builds an aggregator retaining at most window ticks.
func NewAggregator(window int) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aggregator{window: window, ticks: make([]signal.Tick, 0, window)}
}

// Add appends t, evicting the oldest tick when the window is full. Malformed ticks are
// dropped and the prior snapshot is returned with ok=false.
func (a *Aggregator) Add(t signal.Tick) (Snapshot, bool) {
	if !t.Valid() {
		return a.Snapshot(), false
	}
	if len(a.ticks) == a.window {
		a.account(a.ticks[0], -1)
		copy(a.ticks, a.ticks[1:])
		a.ticks[len(a.ticks)-1] = t
	} else {
		a.ticks = append(a.ticks, t)
	}
	a.account(t, 1)
	return a.Snapshot(), true
}

func (a *Aggregator) account(t signal.Tick, sign int64) {
	if t.Side == signal.Buy {
		a.buy += sign * t.Qty
	} else {
		a.sell += sign * t.Qty
	}
}

// Snapshot reports the last price and the cumulative side volume over the window.
func (a *Aggregator) Snapshot() Snapshot {
	if len(a.ticks) == 0 {
		return Snapshot{}
	}
	return Snapshot{
		Price:   a.ticks[len(a.ticks)-1].Price,
		Ready:   true,
		BuyQty:  a.buy,
		SellQty: a.sell,
	}
}

// Oldest returns the timestamp of the oldest retained tick.
func (a *Aggregator) Oldest() (time.Time, bool) {
	if len(a.ticks) == 0 {
		return time.Time{}, false
	}
	return a.ticks[0].Ts, true
}

// Latest returns the most recent tick.
func (a *Aggregator) Latest() (signal.Tick, bool) {
	if len(a.ticks) == 0 {
		return signal.Tick{}, false
	}
	return a.ticks[len(a.ticks)-1], true
}

// Len is the number of ticks currently in the window.
func (a *Aggregator) Len() int { return len(a.ticks) }
