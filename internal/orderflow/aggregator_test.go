package orderflow

import (
	"testing"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func tick(i int, price float64, qty int64, side signal.Side) signal.Tick {
	return signal.Tick{Price: price, Qty: qty, Side: side, Ts: t0.Add(time.Duration(i) * time.Second)}
}

func TestAggregatorEmptySnapshot(t *testing.T) {
	agg := NewAggregator(3)
	snap := agg.Snapshot()
	if snap.Ready {
		t.Fatalf("expected empty window to report not ready")
	}
	if _, ok := agg.Oldest(); ok {
		t.Fatalf("expected no oldest tick")
	}
}

func TestAggregatorEvictsOldest(t *testing.T) {
	agg := NewAggregator(3)
	agg.Add(tick(0, 3360, 100, signal.Buy))
	agg.Add(tick(1, 3361, 200, signal.Sell))
	agg.Add(tick(2, 3362, 300, signal.Buy))
	snap, ok := agg.Add(tick(3, 3363, 400, signal.Sell))
	if !ok {
		t.Fatalf("expected tick accepted")
	}
	if agg.Len() != 3 {
		t.Fatalf("expected window of 3, got %d", agg.Len())
	}
	if snap.Price != 3363 || !snap.Ready {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.BuyQty != 300 || snap.SellQty != 600 {
		t.Fatalf("expected buy=300 sell=600 after eviction, got %+v", snap)
	}
	oldest, _ := agg.Oldest()
	if !oldest.Equal(t0.Add(time.Second)) {
		t.Fatalf("unexpected oldest %v", oldest)
	}
}

func TestAggregatorRejectsMalformed(t *testing.T) {
	agg := NewAggregator(5)
	prior, _ := agg.Add(tick(0, 3360, 100, signal.Buy))

	bad := []signal.Tick{
		{Price: 3361, Qty: 0, Side: signal.Buy, Ts: t0},
		{Price: 0, Qty: 10, Side: signal.Buy, Ts: t0},
		{Price: 3361, Qty: 10, Side: "", Ts: t0},
		{Price: 3361, Qty: 10, Side: signal.Sell},
	}
	for _, tk := range bad {
		snap, ok := agg.Add(tk)
		if ok {
			t.Fatalf("expected %+v to be rejected", tk)
		}
		if snap != prior {
			t.Fatalf("expected prior snapshot %+v, got %+v", prior, snap)
		}
	}
	if agg.Len() != 1 {
		t.Fatalf("rejected ticks must not enter the window")
	}
}

func TestCandleBuilderRollsOnBoundary(t *testing.T) {
	b := NewCandleBuilder(time.Minute)
	b.Add(tick(0, 3360, 1, signal.Buy))
	b.Add(tick(10, 3365, 1, signal.Buy))
	c := b.Add(tick(20, 3358, 1, signal.Sell))
	if c.Open != 3360 || c.High != 3365 || c.Low != 3358 || c.Close != 3358 {
		t.Fatalf("unexpected candle %+v", c)
	}
	c = b.Add(tick(61, 3359, 1, signal.Buy))
	if c.Open != 3359 || c.High != 3359 || !c.Start.Equal(t0.Add(time.Minute)) {
		t.Fatalf("expected fresh candle, got %+v", c)
	}
}

func TestWickStrength(t *testing.T) {
	c := signal.Candle{Open: 3355, High: 3360, Low: 3350, Close: 3352}
	if got := WickStrength(c, signal.Sell); got != 0.5 {
		t.Fatalf("expected upper wick 0.5, got %.3f", got)
	}
	if got := WickStrength(c, signal.Buy); got != 0.2 {
		t.Fatalf("expected lower wick 0.2, got %.3f", got)
	}
	flat := signal.Candle{Open: 3360, High: 3360, Low: 3360, Close: 3360}
	if got := WickStrength(flat, signal.Sell); got != 1 {
		t.Fatalf("expected flat candle to report 1, got %.3f", got)
	}
}
