package iceberg

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/orderflow"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

const (
	// DefaultMinQty is the smallest dominant volume that can mark an iceberg.
	DefaultMinQty = 3000
	// DefaultRatio is the minimum dominant/opposing volume ratio.
	DefaultRatio = 3.0
)

// zoneNamespace seeds name-based zone ids so a replay of the same ticks yields the same ids.
var zoneNamespace = uuid.MustParse("6f1c7e52-55a4-4f4e-9a39-3c1f4a0d7b21")

// DetectorConfig holds the qualification gates.
type DetectorConfig struct {
	Symbol string
	MinQty int64
	Ratio  float64
}

// Outcome tells the caller what a detection did to the registry.
type Outcome int

const (
	Opened Outcome = iota + 1
	Widened
)

// Detection is the result of a qualifying histogram update.
type Detection struct {
	Outcome Outcome
	Zone    Zone
}

// Detector turns qualifying histogram buckets into iceberg zones.
type Detector struct {
	cfg      DetectorConfig
	seq      uint64
	consumed map[int64]baseline
}

// baseline is the volume a bucket had already contributed to a zone. It only applies to the
// bucket incarnation that started at firstSeen; a bucket rebuilt after pruning starts clean.
type baseline struct {
	firstSeen time.Time
	buy, sell int64
}

// NewDetector applies defaults to unset gates.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.MinQty <= 0 {
		cfg.MinQty = DefaultMinQty
	}
	if cfg.Ratio <= 1 {
		cfg.Ratio = DefaultRatio
	}
	return &Detector{cfg: cfg, consumed: make(map[int64]baseline)}
}

// Qualifies applies the minimum-quantity and ratio gates to a bucket.
func (d *Detector) Qualifies(b orderflow.Bucket) (signal.Side, bool) {
	side, dom, opp := b.Dominant()
	if dom < d.cfg.MinQty {
		return side, false
	}
	if float64(dom) < d.cfg.Ratio*float64(max(1, opp)) {
		return side, false
	}
	return side, true
}

// Ratio is dominant/opposing with the opposing side floored at one.
func Ratio(dominant, opposing int64) float64 {
	return float64(dominant) / float64(max(1, opposing))
}

// BaseConfidence scales a ratio into [0, 1], saturating at twice the configured ratio.
func (d *Detector) BaseConfidence(ratio float64) float64 {
	return math.Min(1, math.Max(0, ratio/(2*d.cfg.Ratio)))
}

// Detect inspects the bucket just updated and opens or widens a zone when it qualifies. Only
// volume traded since a zone last covered the bucket counts towards the gates.
func (d *Detector) Detect(b orderflow.Bucket, h *orderflow.Histogram, reg *Registry, session string, at time.Time) (Detection, bool, error) {
	d.forget(h)
	if _, covered := reg.Covering(b.Price); covered {
		d.consume(b)
		return Detection{}, false, nil
	}
	fb := d.fresh(b)
	side, ok := d.Qualifies(fb)
	if !ok {
		return Detection{}, false, nil
	}
	_, dom, opp := fb.Dominant()

	if z, ok := reg.Adjacent(side, h.PriceOf(b.Level-1), h.PriceOf(b.Level+1)); ok {
		dominant, opposing := z.DominantQty+dom, z.OpposingQty+opp
		ratio := Ratio(dominant, opposing)
		widened, err := reg.Widen(z.ID, b.Price, b.Price, dom, opp, ratio, d.BaseConfidence(ratio), at)
		if err != nil {
			return Detection{}, false, err
		}
		d.consume(b)
		return Detection{Outcome: Widened, Zone: widened}, true, nil
	}

	low, high := b.Price, b.Price
	used := []orderflow.Bucket{b}
	for _, level := range []int64{b.Level - 1, b.Level + 1} {
		nb, ok := h.Get(level)
		if !ok {
			continue
		}
		nside, qualifies := d.Qualifies(d.fresh(nb))
		if !qualifies || nside != side {
			continue
		}
		if _, covered := reg.Covering(nb.Price); covered {
			continue
		}
		_, ndom, nopp := d.fresh(nb).Dominant()
		dom += ndom
		opp += nopp
		low = min(low, nb.Price)
		high = max(high, nb.Price)
		used = append(used, nb)
	}

	occurrences, sessions := 1, []string{session}
	if prev, ok := reg.Previous(side, low, high); ok && prev.State.Terminal() {
		occurrences = prev.Occurrences + 1
		sessions = unionSessions(prev.Sessions, sessions)
	}

	d.seq++
	ratio := Ratio(dom, opp)
	z := Zone{
		ID:          d.zoneID(side, low, high, at),
		Side:        side,
		PriceLow:    low,
		PriceHigh:   high,
		DominantQty: dom,
		OpposingQty: opp,
		Ratio:       ratio,
		Confidence:  d.BaseConfidence(ratio),
		State:       Active,
		CreatedAt:   at,
		LastSeen:    at,
		Occurrences: occurrences,
		Sessions:    unionSessions(sessions),
		High:        b.Price,
		Low:         b.Price,
	}
	if err := reg.Put(z); err != nil {
		return Detection{}, false, err
	}
	for _, u := range used {
		d.consume(u)
	}
	return Detection{Outcome: Opened, Zone: z}, true, nil
}

// fresh strips the volume already credited to a zone from b.
func (d *Detector) fresh(b orderflow.Bucket) orderflow.Bucket {
	base, ok := d.consumed[b.Level]
	if !ok || !base.firstSeen.Equal(b.FirstSeen) {
		return b
	}
	b.Buy = max(0, b.Buy-base.buy)
	b.Sell = max(0, b.Sell-base.sell)
	b.Delta = b.Buy - b.Sell
	return b
}

func (d *Detector) consume(b orderflow.Bucket) {
	d.consumed[b.Level] = baseline{firstSeen: b.FirstSeen, buy: b.Buy, sell: b.Sell}
}

// forget drops baselines whose bucket has been pruned or rebuilt.
func (d *Detector) forget(h *orderflow.Histogram) {
	for level, base := range d.consumed {
		if b, ok := h.Get(level); !ok || !b.FirstSeen.Equal(base.firstSeen) {
			delete(d.consumed, level)
		}
	}
}

func (d *Detector) zoneID(side signal.Side, low, high float64, at time.Time) string {
	name := fmt.Sprintf("%s|%s|%.2f|%.2f|%d|%d", d.cfg.Symbol, side, low, high, at.UnixNano(), d.seq)
	return uuid.NewSHA1(zoneNamespace, []byte(name)).String()
}
