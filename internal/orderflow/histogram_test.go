package orderflow

import (
	"testing"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

func TestHistogramAccumulatesBySide(t *testing.T) {
	h := NewHistogram(1)
	h.Update(tick(0, 3360.2, 100, signal.Buy))
	h.Update(tick(1, 3359.8, 300, signal.Sell))
	b := h.Update(tick(2, 3360.0, 50, signal.Buy))

	if h.Len() != 1 {
		t.Fatalf("expected one bucket, got %d", h.Len())
	}
	if b.Price != 3360 || b.Buy != 150 || b.Sell != 300 || b.Delta != -150 {
		t.Fatalf("unexpected bucket %+v", b)
	}
	if !b.FirstSeen.Equal(t0) || !b.LastSeen.Equal(t0.Add(2e9)) {
		t.Fatalf("unexpected seen range %v..%v", b.FirstSeen, b.LastSeen)
	}
	side, dom, opp := b.Dominant()
	if side != signal.Sell || dom != 300 || opp != 150 {
		t.Fatalf("unexpected dominance %s %d %d", side, dom, opp)
	}
}

func TestHistogramFineStep(t *testing.T) {
	h := NewHistogram(0.01)
	b := h.Update(tick(0, 3360.01, 10, signal.Buy))
	if b.Price != 3360.01 {
		t.Fatalf("expected 3360.01, got %v", b.Price)
	}
	if h.Level(3360.00) == h.Level(3360.01) {
		t.Fatalf("expected distinct cent levels")
	}
}

func TestHistogramLadderSortedUnique(t *testing.T) {
	h := NewHistogram(1)
	prices := []float64{3362, 3358, 3360, 3358, 3361, 3362}
	for i, p := range prices {
		h.Update(tick(i, p, 10, signal.Buy))
	}
	ladder := h.Ladder()
	if len(ladder) != 4 {
		t.Fatalf("expected 4 levels, got %d", len(ladder))
	}
	for i := 1; i < len(ladder); i++ {
		if ladder[i].Price <= ladder[i-1].Price {
			t.Fatalf("ladder not strictly ascending at %d: %v", i, ladder)
		}
	}
}

func TestHistogramLastNOrdering(t *testing.T) {
	h := NewHistogram(1)
	h.Update(tick(0, 3361, 500, signal.Buy))  // |delta| 500, older
	h.Update(tick(1, 3350, 900, signal.Sell)) // |delta| 900
	h.Update(tick(2, 3362, 500, signal.Sell)) // |delta| 500, newer
	h.Update(tick(2, 3340, 500, signal.Buy))  // |delta| 500, same time as 3362, lower price
	h.Update(tick(3, 3345, 10, signal.Buy))

	top := h.LastN(4)
	want := []float64{3350, 3340, 3362, 3361}
	if len(top) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(top))
	}
	for i, p := range want {
		if top[i].Price != p {
			t.Fatalf("position %d: expected %.0f got %.0f (%v)", i, p, top[i].Price, top)
		}
	}
}

func TestHistogramPrune(t *testing.T) {
	h := NewHistogram(1)
	h.Update(tick(0, 3360, 10, signal.Buy))
	h.Update(tick(5, 3361, 10, signal.Buy))
	h.Update(tick(9, 3360, 10, signal.Sell))

	removed := h.Prune(t0.Add(6e9))
	if removed != 1 {
		t.Fatalf("expected one bucket pruned, got %d", removed)
	}
	if _, ok := h.Get(h.Level(3361)); ok {
		t.Fatalf("expected 3361 pruned")
	}
	if _, ok := h.Get(h.Level(3360)); !ok {
		t.Fatalf("expected 3360 kept since it was touched recently")
	}
}
