// Package session maps timestamps onto trading session identifiers.
package session

import "time"

const (
	Asia       = "ASIA"
	London     = "LONDON"
	NewYork    = "NEW_YORK"
	OffSession = "OFF_SESSION"
)

// Classifier returns the session identifier for a timestamp. Identifiers are opaque to the core.
type Classifier func(time.Time) string

// ByUTCHour buckets the day the way the desk does: Asia 00-06, London 06-13, New York 13-21 UTC.
func ByUTCHour(ts time.Time) string {
	h := ts.UTC().Hour()
	switch {
	case h < 6:
		return Asia
	case h < 13:
		return London
	case h < 21:
		return NewYork
	default:
		return OffSession
	}
}

// Fixed always reports the same session; handy for tests and single-session replays.
func Fixed(name string) Classifier {
	return func(time.Time) string { return name }
}
