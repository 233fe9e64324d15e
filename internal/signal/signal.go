// Package signal standardizes payloads shared between data ingestion, the order-flow core and the mentor layer.
package signal

import (
	"strings"
	"time"
)

// Side is the aggressor side of a tick or the bias of a zone.
type Side string

const (
	// Buy marks buyer-initiated volume or a bullish bias.
	Buy Side = "BUY"
	// Sell marks seller-initiated volume or a bearish bias.
	Sell Side = "SELL"
	// None means no directional bias.
	None Side = "NONE"
)

// ParseSide accepts "buy"/"sell" in any case (also "b"/"s").
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return Buy, true
	case "SELL", "S":
		return Sell, true
	default:
		return "", false
	}
}

// Valid reports whether s is a tradable side.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite flips Buy and Sell.
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return None
	}
}

// Tick models a single trade print on the instrument.
type Tick struct {
	Price float64
	Qty   int64
	Side  Side
	Ts    time.Time
}

// Valid reports whether every field carries a usable value.
func (t Tick) Valid() bool {
	return t.Price > 0 && t.Qty > 0 && t.Side.Valid() && !t.Ts.IsZero()
}

// Candle is an OHLC bar rolled from ticks.
type Candle struct {
	Start time.Time `json:"start"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Action is the outcome of the decision gate.
type Action string

const (
	// Trade means every gate predicate passed.
	Trade Action = "TRADE"
	// Wait means at least one predicate failed.
	Wait Action = "WAIT"
)

// Decision is the mentor's actionable output for the latest tick.
type Decision struct {
	Decision   Action    `json:"decision"`
	Bias       Side      `json:"bias"`
	Price      float64   `json:"price"`
	Confidence float64   `json:"confidence"`
	ZoneID     string    `json:"zone_id,omitempty"`
	Reason     string    `json:"reason"`
	Size       float64   `json:"size,omitempty"`
	Ts         time.Time `json:"ts"`
}
