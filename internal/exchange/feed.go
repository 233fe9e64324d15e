// Package exchange hosts the tick sources the ingest loop consumes.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

const (
	// ProviderStub emits a seeded random walk around the reference price (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderWebsocket reads JSON ticks from a bridge websocket.
	ProviderWebsocket = "websocket"
)

// ErrSourceUnrecoverable is returned when the source cannot produce ticks and retrying will not help.
var ErrSourceUnrecoverable = errors.New("tick source unrecoverable")

const (
	defaultInterval   = 200 * time.Millisecond
	defaultMinBackoff = 100 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
	defaultStubPrice  = 3360.0
)

// Feed represents a pluggable tick stream implementation.
type Feed struct {
	provider   string
	symbol     string
	url        string
	log        zerolog.Logger
	interval   time.Duration
	seed       int64
	startPrice float64
	maxRetries int
	minBackoff time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithURL sets the websocket endpoint.
func WithURL(url string) Option {
	return func(f *Feed) { f.url = strings.TrimSpace(url) }
}

// WithInterval overrides the stub cadence.
func WithInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithSeed makes the stub walk reproducible.
func WithSeed(seed int64) Option {
	return func(f *Feed) { f.seed = seed }
}

// WithStartPrice moves the stub reference price.
func WithStartPrice(px float64) Option {
	return func(f *Feed) {
		if px > 0 {
			f.startPrice = px
		}
	}
}

// WithMaxRetries bounds consecutive failed connection attempts; zero retries forever.
func WithMaxRetries(n int) Option {
	return func(f *Feed) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithBackoff overrides the reconnect delay bounds.
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(f *Feed) {
		if initial > 0 {
			f.minBackoff = initial
		}
		if ceiling >= f.minBackoff {
			f.maxBackoff = ceiling
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider, symbol string, log zerolog.Logger, opts ...Option) (*Feed, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:   provider,
		symbol:     symbol,
		log:        log.With().Str("component", "feed").Str("provider", provider).Logger(),
		interval:   defaultInterval,
		seed:       1,
		startPrice: defaultStubPrice,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	switch f.provider {
	case ProviderStub:
	case ProviderWebsocket:
		if f.url == "" {
			return nil, fmt.Errorf("%w: websocket provider requires a url", ErrSourceUnrecoverable)
		}
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrSourceUnrecoverable, f.provider)
	}
	return f, nil
}

// Provider reports the configured provider name.
func (f *Feed) Provider() string { return f.provider }

// Run pushes ticks onto the provided channel until the context is canceled. It returns nil on
// cancellation and an error wrapping ErrSourceUnrecoverable when the source gives up.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	var err error
	switch f.provider {
	case ProviderWebsocket:
		err = f.runWebsocket(ctx, out)
	default:
		err = f.runStub(ctx, out)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// backoff doubles the reconnect delay up to the cap.
type backoff struct {
	initial, ceiling, next time.Duration
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	return &backoff{initial: initial, ceiling: ceiling, next: initial}
}

func (b *backoff) Next() time.Duration {
	d := b.next
	b.next = min(b.ceiling, b.next*2)
	return d
}

func (b *backoff) Reset() { b.next = b.initial }
