package exchange

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

const (
	stubStep   = 0.8
	stubMinQty = 100
	stubMaxQty = 1500
)

// stubWalk generates the synthetic tape; it is deterministic for a given seed.
type stubWalk struct {
	rng *rand.Rand
	px  float64
}

func newStubWalk(seed int64, start float64) *stubWalk {
	return &stubWalk{rng: rand.New(rand.NewSource(seed)), px: start}
}

// next moves the price by up to ±0.8 and rounds it to the cent.
func (w *stubWalk) next() (float64, int64, signal.Side) {
	w.px += (w.rng.Float64()*2 - 1) * stubStep
	px := decimal.NewFromFloat(w.px).Round(2).InexactFloat64()
	qty := stubMinQty + w.rng.Int63n(stubMaxQty-stubMinQty+1)
	side := signal.Buy
	if w.rng.Intn(2) == 1 {
		side = signal.Sell
	}
	return px, qty, side
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	walk := newStubWalk(f.seed, f.startPrice)
	f.log.Info().Str("symbol", f.symbol).Int64("seed", f.seed).Dur("interval", f.interval).Msg("stub feed started")

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		var ts time.Time
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts = <-ticker.C:
		}
		px, qty, side := walk.next()
		tick := signal.Tick{Price: px, Qty: qty, Side: side, Ts: ts.UTC()}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
