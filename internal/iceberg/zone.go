// Package iceberg detects institutional iceberg zones in the order-flow histogram, tracks their
// lifecycle in a registry and grades their outcome against subsequent price action.
package iceberg

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

// State is the lifecycle stage of a zone.
type State uint8

const (
	Active State = iota + 1
	Weak
	Success
	Failed
	Expired
)

var stateNames = map[State]string{
	Active:  "ACTIVE",
	Weak:    "WEAK",
	Success: "SUCCESS",
	Failed:  "FAILED",
	Expired: "EXPIRED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Terminal states absorb: once reached, a zone never changes state again.
func (s State) Terminal() bool {
	return s == Success || s == Failed || s == Expired
}

// Live is the complement of Terminal for known states (ACTIVE or WEAK).
func (s State) Live() bool { return s == Active || s == Weak }

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown zone state %q", name)
}

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Zone is a detected institutional level.
type Zone struct {
	ID          string      `json:"id"`
	Side        signal.Side `json:"side"`
	PriceLow    float64     `json:"price_low"`
	PriceHigh   float64     `json:"price_high"`
	DominantQty int64       `json:"dominant_qty"`
	OpposingQty int64       `json:"opposing_qty"`
	Ratio       float64     `json:"ratio"`
	Confidence  float64     `json:"confidence"`
	State       State       `json:"state"`
	CreatedAt   time.Time   `json:"created_ts"`
	LastSeen    time.Time   `json:"last_seen_ts"`
	Occurrences int         `json:"occurrences"`
	Sessions    []string    `json:"sessions"`

	// price extremes observed since creation, used for the minimum-move rule
	High float64 `json:"high_since"`
	Low  float64 `json:"low_since"`
}

// Covers reports whether price lies inside the band (inclusive).
func (z Zone) Covers(price float64) bool {
	return price >= z.PriceLow && price <= z.PriceHigh
}

// Overlaps reports whether [low, high] intersects the band.
func (z Zone) Overlaps(low, high float64) bool {
	return low <= z.PriceHigh && high >= z.PriceLow
}

// Entry is the band midpoint.
func (z Zone) Entry() float64 { return (z.PriceLow + z.PriceHigh) / 2 }

func (z Zone) clone() Zone {
	z.Sessions = append([]string(nil), z.Sessions...)
	return z
}

// Chain is the derived view over zones sharing a side and an overlapping band within memory.
type Chain struct {
	Occurrences int      `json:"occurrences"`
	Sessions    []string `json:"sessions"`
}

// unionSessions merges session sets, returning a sorted copy without duplicates.
func unionSessions(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, s := range set {
			if s != "" {
				seen[s] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
