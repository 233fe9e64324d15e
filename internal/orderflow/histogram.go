package orderflow

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

// Bucket aggregates volume traded at one quantised price level.
type Bucket struct {
	Level     int64     `json:"-"`
	Price     float64   `json:"price"`
	Buy       int64     `json:"buy"`
	Sell      int64     `json:"sell"`
	Delta     int64     `json:"delta"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Dominant returns the heavier side with its volume and the opposing volume.
func (b Bucket) Dominant() (signal.Side, int64, int64) {
	if b.Buy >= b.Sell {
		return signal.Buy, b.Buy, b.Sell
	}
	return signal.Sell, b.Sell, b.Buy
}

// Histogram buckets volume by price level across the active window.
type Histogram struct {
	step    decimal.Decimal
	buckets map[int64]*Bucket
}

// NewHistogram builds a histogram quantising prices to step (1.0 when non-positive).
func NewHistogram(step float64) *Histogram {
	if step <= 0 {
		step = 1
	}
	return &Histogram{
		step:    decimal.NewFromFloat(step),
		buckets: make(map[int64]*Bucket),
	}
}

// Level maps a raw price to its bucket index, rounding to the nearest step.
func (h *Histogram) Level(price float64) int64 {
	return decimal.NewFromFloat(price).Div(h.step).Round(0).IntPart()
}

// PriceOf maps a bucket index back to its price.
func (h *Histogram) PriceOf(level int64) float64 {
	return decimal.NewFromInt(level).Mul(h.step).InexactFloat64()
}

// Step is the quantisation granularity.
func (h *Histogram) Step() float64 { return h.step.InexactFloat64() }

// Update accumulates t on the correct side of its bucket and returns a copy of that bucket.
func (h *Histogram) Update(t signal.Tick) Bucket {
	level := h.Level(t.Price)
	b := h.buckets[level]
	if b == nil {
		b = &Bucket{Level: level, Price: h.PriceOf(level), FirstSeen: t.Ts}
		h.buckets[level] = b
	}
	if t.Side == signal.Buy {
		b.Buy += t.Qty
	} else {
		b.Sell += t.Qty
	}
	b.Delta = b.Buy - b.Sell
	b.LastSeen = t.Ts
	return *b
}

// Get returns the bucket at level.
func (h *Histogram) Get(level int64) (Bucket, bool) {
	b, ok := h.buckets[level]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}

// Prune drops buckets last seen before oldest and reports how many were removed.
func (h *Histogram) Prune(oldest time.Time) int {
	removed := 0
	for level, b := range h.buckets {
		if b.LastSeen.Before(oldest) {
			delete(h.buckets, level)
			removed++
		}
	}
	return removed
}

// Len is the number of live buckets.
func (h *Histogram) Len() int { return len(h.buckets) }

// LastN returns the n buckets with the largest |delta|; ties go to the more recent bucket, then the lower price.
func (h *Histogram) LastN(n int) []Bucket {
	out := h.all()
	sort.Slice(out, func(i, j int) bool {
		ai, aj := abs(out[i].Delta), abs(out[j].Delta)
		if ai != aj {
			return ai > aj
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Level < out[j].Level
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Ladder returns every live bucket in ascending price order.
func (h *Histogram) Ladder() []Bucket {
	out := h.all()
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

func (h *Histogram) all() []Bucket {
	out := make([]Bucket, 0, len(h.buckets))
	for _, b := range h.buckets {
		out = append(out, *b)
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
