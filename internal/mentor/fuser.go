// Package mentor fuses zone confidence with memory of prior zones and gates the result into a decision.
package mentor

import (
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/iceberg"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

const (
	repeatBoost    = 0.10
	sessionBoost   = 0.10
	heavyBoost     = 0.15
	contextBoost   = 0.15
	heavyThreshold = 4
)

// ZoneView is the read side of the zone registry the fuser needs.
type ZoneView interface {
	Active() []iceberg.Zone
	Chain(iceberg.Zone) iceberg.Chain
}

// Fused is the confidence breakdown for the candidate zone.
type Fused struct {
	Zone         *iceberg.Zone
	Chain        iceberg.Chain
	Base         float64
	ChainBoost   float64
	ContextBoost float64
	Confidence   float64
	Bias         signal.Side
}

// ChainBoost is the additive repetition bonus for a chain, at most 0.35.
func ChainBoost(c iceberg.Chain) float64 {
	boost := 0.0
	if c.Occurrences >= 2 {
		boost += repeatBoost
	}
	if len(c.Sessions) >= 2 {
		boost += sessionBoost
	}
	if c.Occurrences >= heavyThreshold {
		boost += heavyBoost
	}
	return boost
}

// Fuse scores the newest live zone at the given price.
func Fuse(price float64, zones ZoneView) Fused {
	active := zones.Active()
	if len(active) == 0 {
		return Fused{Bias: signal.None}
	}
	candidate := active[0]
	chain := zones.Chain(candidate)
	f := Fused{
		Zone:       &candidate,
		Chain:      chain,
		Base:       candidate.Confidence,
		ChainBoost: ChainBoost(chain),
		Bias:       candidate.Side,
	}
	for _, z := range active {
		if z.Covers(price) {
			f.ContextBoost = contextBoost
			f.Bias = z.Side
			break
		}
	}
	f.Confidence = clamp(f.Base+f.ChainBoost+f.ContextBoost, 0, 1)
	return f
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
