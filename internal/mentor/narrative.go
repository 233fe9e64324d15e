package mentor

import (
	"fmt"
	"strings"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

// WaitNarrative is rendered for every WAIT decision.
const WaitNarrative = "Waiting: no confirmed institutional activity."

// Narrator renders a decision for a human reader.
type Narrator interface {
	Narrate(d signal.Decision, f Fused) string
}

// NarratorFunc adapts a function to Narrator.
type NarratorFunc func(signal.Decision, Fused) string

func (fn NarratorFunc) Narrate(d signal.Decision, f Fused) string { return fn(d, f) }

// Template is the default narrator.
type Template struct{}

func (Template) Narrate(d signal.Decision, f Fused) string {
	if d.Decision != signal.Trade || f.Zone == nil {
		return WaitNarrative
	}
	z := f.Zone
	var b strings.Builder
	fmt.Fprintf(&b, "Iceberg %s zone %.2f-%.2f near %.2f (ratio %.1f). ", z.Side, z.PriceLow, z.PriceHigh, d.Price, z.Ratio)
	if z.Side == signal.Sell {
		b.WriteString("Order flow delta favors sellers. ")
	} else {
		b.WriteString("Order flow delta favors buyers. ")
	}
	if f.Chain.Occurrences > 1 {
		fmt.Fprintf(&b, "Level has triggered %d times across %s. ", f.Chain.Occurrences, strings.Join(f.Chain.Sessions, ", "))
	}
	fmt.Fprintf(&b, "Confidence %.0f%%, size %.2f.", d.Confidence*100, d.Size)
	return b.String()
}
