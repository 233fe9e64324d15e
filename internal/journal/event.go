// Package journal records pipeline events (zone lifecycle, decisions) for later inspection.
package journal

import (
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/iceberg"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

// Kind labels an event.
type Kind string

const (
	ZoneOpened     Kind = "zone_opened"
	ZoneWidened    Kind = "zone_widened"
	ZoneTransition Kind = "zone_transition"
	DecisionChange Kind = "decision"
)

// Event is one journal line.
type Event struct {
	Kind     Kind             `json:"kind"`
	Ts       time.Time        `json:"ts"`
	Zone     *iceberg.Zone    `json:"zone,omitempty"`
	From     string           `json:"from,omitempty"`
	To       string           `json:"to,omitempty"`
	Decision *signal.Decision `json:"decision,omitempty"`
}

// Recorder captures events.
type Recorder interface {
	Record(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(Event) {}

// Multi fans an event out to several recorders.
type Multi []Recorder

func (m Multi) Record(e Event) {
	for _, r := range m {
		r.Record(e)
	}
}
