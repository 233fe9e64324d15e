package iceberg

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

var (
	// ErrNotFound is returned for unknown zone ids.
	ErrNotFound = errors.New("zone not found")
	// ErrTerminal is returned when a change would move a zone out of a terminal state.
	ErrTerminal = errors.New("zone is in a terminal state")
	// ErrOutOfOrder is returned when a transition is stamped before the zone's last observation.
	ErrOutOfOrder = errors.New("transition predates last observation")
)

const day = 24 * time.Hour

// Registry is the single authority on zone state. It is not safe for concurrent use;
// the ingest loop owns it and readers get copies through Snapshot.
type Registry struct {
	memory time.Duration
	zones  map[string]*entry
	seq    uint64
	now    time.Time
}

type entry struct {
	zone Zone
	seq  uint64
}

// NewRegistry keeps zones for at least memory after their last observation.
func NewRegistry(memory time.Duration) *Registry {
	if memory <= 0 {
		memory = 3 * day
	}
	return &Registry{memory: memory, zones: make(map[string]*entry)}
}

// Advance moves the registry clock forward; it never goes backwards.
func (r *Registry) Advance(at time.Time) {
	if at.After(r.now) {
		r.now = at
	}
}

// Now is the registry clock (timestamp of the latest tick seen).
func (r *Registry) Now() time.Time { return r.now }

// Memory is the retention window.
func (r *Registry) Memory() time.Duration { return r.memory }

// Put inserts or replaces a zone. Replacing a terminal zone with a different state is refused.
func (r *Registry) Put(z Zone) error {
	if z.ID == "" {
		return fmt.Errorf("put zone: empty id")
	}
	if z.PriceLow > z.PriceHigh {
		return fmt.Errorf("put zone %s: price_low %.2f above price_high %.2f", z.ID, z.PriceLow, z.PriceHigh)
	}
	if existing, ok := r.zones[z.ID]; ok {
		if existing.zone.State.Terminal() && z.State != existing.zone.State {
			return fmt.Errorf("put zone %s as %s: %w", z.ID, z.State, ErrTerminal)
		}
		existing.zone = z.clone()
		return nil
	}
	r.seq++
	r.zones[z.ID] = &entry{zone: z.clone(), seq: r.seq}
	r.Advance(z.CreatedAt)
	return nil
}

// Get returns a copy of the zone with the given id.
func (r *Registry) Get(id string) (Zone, bool) {
	e, ok := r.zones[id]
	if !ok {
		return Zone{}, false
	}
	return e.zone.clone(), true
}

// Len is the number of retained zones.
func (r *Registry) Len() int { return len(r.zones) }

// Transition moves a zone to a new state at the given time. Terminal states absorb.
func (r *Registry) Transition(id string, to State, at time.Time) error {
	e, ok := r.zones[id]
	if !ok {
		return fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	from := e.zone.State
	if from.Terminal() {
		if to == from {
			return nil
		}
		return fmt.Errorf("transition %s %s -> %s: %w", id, from, to, ErrTerminal)
	}
	if at.Before(e.zone.LastSeen) {
		return fmt.Errorf("transition %s at %s: %w", id, at.Format(time.RFC3339), ErrOutOfOrder)
	}
	e.zone.State = to
	e.zone.LastSeen = at
	r.Advance(at)
	return nil
}

// Observe folds a traded price into a live zone's extremes.
func (r *Registry) Observe(id string, price float64, at time.Time) (Zone, error) {
	e, ok := r.zones[id]
	if !ok {
		return Zone{}, fmt.Errorf("observe %s: %w", id, ErrNotFound)
	}
	if e.zone.State.Terminal() {
		return e.zone.clone(), fmt.Errorf("observe %s: %w", id, ErrTerminal)
	}
	if price > e.zone.High {
		e.zone.High = price
	}
	if e.zone.Low == 0 || price < e.zone.Low {
		e.zone.Low = price
	}
	if at.After(e.zone.LastSeen) {
		e.zone.LastSeen = at
	}
	return e.zone.clone(), nil
}

// Widen merges an adjacent qualifying bucket into a live zone.
func (r *Registry) Widen(id string, low, high float64, dominant, opposing int64, ratio, confidence float64, at time.Time) (Zone, error) {
	e, ok := r.zones[id]
	if !ok {
		return Zone{}, fmt.Errorf("widen %s: %w", id, ErrNotFound)
	}
	if e.zone.State.Terminal() {
		return e.zone.clone(), fmt.Errorf("widen %s: %w", id, ErrTerminal)
	}
	z := &e.zone
	z.PriceLow = min(z.PriceLow, low)
	z.PriceHigh = max(z.PriceHigh, high)
	z.DominantQty += dominant
	z.OpposingQty += opposing
	z.Ratio = ratio
	z.Confidence = confidence
	if at.After(z.LastSeen) {
		z.LastSeen = at
	}
	return z.clone(), nil
}

// Active returns live zones (ACTIVE or WEAK), newest first.
func (r *Registry) Active() []Zone {
	return r.collect(func(z Zone) bool { return z.State.Live() })
}

// Recent returns zones created within [now - days, now], newest first.
func (r *Registry) Recent(days int) []Zone {
	return FilterRecent(r.Snapshot(), r.now, time.Duration(days)*day)
}

// Covering returns the newest live zone whose band contains price.
func (r *Registry) Covering(price float64) (Zone, bool) {
	for _, z := range r.Active() {
		if z.Covers(price) {
			return z, true
		}
	}
	return Zone{}, false
}

// Adjacent returns the newest live zone on side whose band overlaps [low, high].
func (r *Registry) Adjacent(side signal.Side, low, high float64) (Zone, bool) {
	for _, z := range r.Active() {
		if z.Side == side && z.Overlaps(low, high) {
			return z, true
		}
	}
	return Zone{}, false
}

// Previous returns the newest zone in memory on side whose band overlaps [low, high], in any state.
func (r *Registry) Previous(side signal.Side, low, high float64) (Zone, bool) {
	for _, z := range r.inMemory() {
		if z.Side == side && z.Overlaps(low, high) {
			return z, true
		}
	}
	return Zone{}, false
}

// Chain groups every zone in memory sharing z's side with an overlapping band.
func (r *Registry) Chain(z Zone) Chain {
	count, maxOcc := 0, z.Occurrences
	sets := [][]string{z.Sessions}
	for _, other := range r.inMemory() {
		if other.Side != z.Side || !other.Overlaps(z.PriceLow, z.PriceHigh) {
			continue
		}
		count++
		maxOcc = max(maxOcc, other.Occurrences)
		sets = append(sets, other.Sessions)
	}
	if _, ok := r.zones[z.ID]; !ok {
		count++
	}
	return Chain{Occurrences: max(count, maxOcc), Sessions: unionSessions(sets...)}
}

// Evict drops terminal zones whose last observation is older than the memory window.
func (r *Registry) Evict(at time.Time) int {
	cutoff := at.Add(-r.memory)
	removed := 0
	for id, e := range r.zones {
		if e.zone.State.Terminal() && e.zone.LastSeen.Before(cutoff) {
			delete(r.zones, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns copies of every retained zone, newest first.
func (r *Registry) Snapshot() []Zone {
	return r.collect(func(Zone) bool { return true })
}

func (r *Registry) inMemory() []Zone {
	cutoff := r.now.Add(-r.memory)
	return r.collect(func(z Zone) bool { return !z.LastSeen.Before(cutoff) || !z.CreatedAt.Before(cutoff) })
}

func (r *Registry) collect(keep func(Zone) bool) []Zone {
	entries := make([]*entry, 0, len(r.zones))
	for _, e := range r.zones {
		if keep(e.zone) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.zone.CreatedAt.Equal(b.zone.CreatedAt) {
			return a.zone.CreatedAt.After(b.zone.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]Zone, len(entries))
	for i, e := range entries {
		out[i] = e.zone.clone()
	}
	return out
}

// FilterRecent keeps zones created within [now - window, now]; input order is preserved.
func FilterRecent(zones []Zone, now time.Time, window time.Duration) []Zone {
	from := now.Add(-window)
	out := make([]Zone, 0, len(zones))
	for _, z := range zones {
		if z.CreatedAt.Before(from) || z.CreatedAt.After(now) {
			continue
		}
		out = append(out, z)
	}
	return out
}
