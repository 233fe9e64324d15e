package risk

import (
	"errors"
	"sync"
	"time"
)

// SessionState is the read-only view the core takes of the trading session.
type SessionState struct {
	Locked  bool    `json:"locked"`
	Losses  int     `json:"losses"`
	Balance float64 `json:"balance"`
}

// Store provides the current session state.
type Store interface {
	Session() SessionState
}

// Roller is a Store whose daily counters follow market time.
type Roller interface {
	Roll(at time.Time)
}

// Static is a Store that always reports the same state.
type Static SessionState

func (s Static) Session() SessionState { return SessionState(s) }

// Book tracks balance, losses and the lock flag for the current trading day.
type Book struct {
	mu      sync.Mutex
	day     time.Time
	locked  bool
	losses  int
	balance float64
}

// NewBook starts a session with the given balance.
func NewBook(balance float64) *Book {
	return &Book{balance: balance}
}

// Session returns a copy of the current state.
func (b *Book) Session() SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return SessionState{Locked: b.locked, Losses: b.losses, Balance: b.balance}
}

// Lock stops the gate from emitting trades until Unlock.
func (b *Book) Lock() {
	b.mu.Lock()
	b.locked = true
	b.mu.Unlock()
}

// Unlock clears the lock flag.
func (b *Book) Unlock() {
	b.mu.Lock()
	b.locked = false
	b.mu.Unlock()
}

// RecordResult applies a closed trade's pnl; a negative result counts as a loss for the day of at.
func (b *Book) RecordResult(pnl float64, at time.Time) error {
	if at.IsZero() {
		return errors.New("result timestamp required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(at)
	b.balance += pnl
	if pnl < 0 {
		b.losses++
	}
	return nil
}

// Roll resets the loss count when at falls on a later UTC day than the last recorded result.
func (b *Book) Roll(at time.Time) {
	b.mu.Lock()
	b.rollLocked(at)
	b.mu.Unlock()
}

func (b *Book) rollLocked(at time.Time) {
	day := at.UTC().Truncate(24 * time.Hour)
	if day.After(b.day) {
		b.day = day
		b.losses = 0
	}
}
