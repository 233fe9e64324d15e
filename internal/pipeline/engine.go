// Package pipeline runs the single-writer ingest loop: every tick flows through the aggregator,
// histogram, detector, registry and evaluator before an immutable snapshot is published.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/config"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/iceberg"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/journal"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/mentor"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/orderflow"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/risk"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/session"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

var (
	// ErrMalformed marks a tick with a missing or non-positive field.
	ErrMalformed = errors.New("malformed tick")
	// ErrOutOfOrder marks a tick stamped before the previous one.
	ErrOutOfOrder = errors.New("tick out of order")
)

const defaultStallTimeout = 5 * time.Second

// Config carries the knobs the ingest loop needs.
type Config struct {
	Symbol       string
	Timeframe    time.Duration
	PriceStep    float64
	Window       int
	MinQty       int64
	Ratio        float64
	MinMove      float64
	WeakWick     float64
	Memory       time.Duration
	Threshold    float64
	TopN         int
	Limits       risk.Limits
	StallTimeout time.Duration
}

// FromConfig maps the application configuration onto the engine.
func FromConfig(c *config.Config) (Config, error) {
	tf, err := c.Timeframe()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Symbol:    c.Market.Symbol,
		Timeframe: tf,
		PriceStep: c.Market.PriceStep,
		Window:    c.Iceberg.WindowSize,
		MinQty:    c.Iceberg.MinQty,
		Ratio:     c.Iceberg.Ratio,
		MinMove:   c.Iceberg.MinMove,
		WeakWick:  c.Iceberg.WeakWick,
		Memory:    c.MemoryWindow(),
		Threshold: c.Decision.ConfidenceThreshold,
		TopN:      c.Decision.TopN,
		Limits: risk.Limits{
			DailyLossLimit: c.Risk.DailyLossLimit,
			RiskPct:        c.Risk.RiskPct,
			StopPoints:     c.Risk.StopPoints,
		},
		StallTimeout: config.Millis(c.Feed.StallTimeoutMs, defaultStallTimeout),
	}, nil
}

// Engine owns all mutable order-flow state. Apply and Run must be called from one goroutine;
// Snapshot is safe from any goroutine.
type Engine struct {
	cfg Config
	log zerolog.Logger

	agg       *orderflow.Aggregator
	hist      *orderflow.Histogram
	candles   *orderflow.CandleBuilder
	detector  *iceberg.Detector
	registry  *iceberg.Registry
	evaluator *iceberg.Evaluator
	gate      mentor.Gate

	store     risk.Store
	recorder  journal.Recorder
	narrator  mentor.Narrator
	sessions  session.Classifier
	evalDelay time.Duration
	inbox     *Inbox

	last     time.Time
	seq      uint64
	applied  uint64
	rejected uint64
	decided  signal.Decision

	snap atomic.Pointer[Snapshot]
}

// Option configures Engine construction parameters.
type Option func(*Engine)

// WithRiskStore sets the session store read by the decision gate.
func WithRiskStore(s risk.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// WithJournal records zone lifecycle and decision changes.
func WithJournal(r journal.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithNarrator replaces the default narrative template.
func WithNarrator(n mentor.Narrator) Option {
	return func(e *Engine) {
		if n != nil {
			e.narrator = n
		}
	}
}

// WithSessions overrides the session classifier.
func WithSessions(c session.Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.sessions = c
		}
	}
}

// WithEvalDelay slows every tick down; used to exercise backpressure.
func WithEvalDelay(d time.Duration) Option {
	return func(e *Engine) { e.evalDelay = d }
}

// NewEngine wires the order-flow components and publishes an initial WAIT snapshot.
func NewEngine(cfg Config, log zerolog.Logger, opts ...Option) *Engine {
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = defaultStallTimeout
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	e := &Engine{
		cfg:      cfg,
		log:      log.With().Str("component", "pipeline").Logger(),
		agg:      orderflow.NewAggregator(cfg.Window),
		hist:     orderflow.NewHistogram(cfg.PriceStep),
		candles:  orderflow.NewCandleBuilder(cfg.Timeframe),
		detector: iceberg.NewDetector(iceberg.DetectorConfig{Symbol: cfg.Symbol, MinQty: cfg.MinQty, Ratio: cfg.Ratio}),
		registry: iceberg.NewRegistry(cfg.Memory),
		evaluator: iceberg.NewEvaluator(iceberg.EvaluatorConfig{
			MinMove:  cfg.MinMove,
			WeakWick: cfg.WeakWick,
			Memory:   cfg.Memory,
		}),
		gate:     mentor.NewGate(cfg.Threshold, cfg.Limits),
		store:    risk.Static{},
		recorder: journal.Discard{},
		narrator: mentor.Template{},
		sessions: session.ByUTCHour,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.decided = signal.Decision{Decision: signal.Wait, Bias: signal.None, Reason: mentor.ReasonNoZone}
	e.snap.Store(&Snapshot{
		Decision:  e.decided,
		Narrative: mentor.WaitNarrative,
		Top:       []orderflow.Bucket{},
		Ladder:    []orderflow.Bucket{},
		Zones:     []iceberg.Zone{},
	})
	return e
}

// Snapshot returns the latest fully applied state.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

// Registry exposes the zone registry to the owning goroutine, e.g. for seeding history.
func (e *Engine) Registry() *iceberg.Registry { return e.registry }

// Restore seeds the registry with zones saved by an earlier run and publishes a snapshot
// stamped with the registry clock, so they are queryable before the first tick. Zones that
// cannot be inserted are skipped and reported. Call it before Run.
func (e *Engine) Restore(zones []iceberg.Zone) (int, error) {
	var errs []error
	restored := 0
	for _, z := range zones {
		if err := e.registry.Put(z); err != nil {
			errs = append(errs, err)
			continue
		}
		restored++
	}
	if restored > 0 {
		metrics.ActiveZones.Set(float64(len(e.registry.Active())))
		prev := e.snap.Load()
		e.publish(e.registry.Now(), prev.Aggregate, prev.Candle, e.decided, prev.Narrative, prev.Session)
	}
	return restored, errors.Join(errs...)
}

// Run consumes the inbox until it is closed or ctx is done. A stall is reported whenever no
// tick arrives within the stall timeout; the loop keeps waiting.
func (e *Engine) Run(ctx context.Context, in *Inbox) error {
	e.inbox = in
	stall := time.NewTimer(e.cfg.StallTimeout)
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Uint64("applied", e.applied).Msg("ingest loop stopped")
			return nil
		case <-stall.C:
			metrics.SourceStalls.Inc()
			e.log.Warn().Dur("after", e.cfg.StallTimeout).Msg("no tick received")
			stall.Reset(e.cfg.StallTimeout)
		case t, ok := <-in.C():
			if !ok {
				e.log.Info().Uint64("applied", e.applied).Msg("tick source closed")
				return nil
			}
			stall.Reset(e.cfg.StallTimeout)
			if e.evalDelay > 0 {
				time.Sleep(e.evalDelay)
			}
			if err := e.Apply(t); err != nil {
				e.log.Debug().Err(err).Float64("px", t.Price).Msg("tick rejected")
			}
		}
	}
}

// Apply runs one tick through the pipeline and publishes the resulting snapshot.
// Rejected ticks leave the state untouched.
func (e *Engine) Apply(t signal.Tick) error {
	if !t.Valid() {
		return e.reject(t, "malformed", ErrMalformed)
	}
	if t.Ts.Before(e.last) {
		return e.reject(t, "out_of_order", ErrOutOfOrder)
	}
	e.last = t.Ts
	e.applied++
	metrics.TicksTotal.WithLabelValues(e.cfg.Symbol).Inc()

	aggregate, _ := e.agg.Add(t)
	candle := e.candles.Add(t)
	e.registry.Advance(t.Ts)
	if oldest, ok := e.agg.Oldest(); ok {
		e.hist.Prune(oldest)
	}
	bucket := e.hist.Update(t)
	sess := e.sessions(t.Ts)

	fresh := e.detect(bucket, sess, t.Ts)
	e.evaluate(t, candle, fresh)
	e.registry.Evict(t.Ts)

	active := e.registry.Active()
	metrics.ActiveZones.Set(float64(len(active)))

	fused := mentor.Fuse(t.Price, e.registry)
	if r, ok := e.store.(risk.Roller); ok {
		r.Roll(t.Ts)
	}
	decision := e.gate.Decide(fused, t.Price, e.store.Session(), t.Ts)
	metrics.Decisions.WithLabelValues(string(decision.Decision)).Inc()
	if decision.Decision != e.decided.Decision || decision.Reason != e.decided.Reason || decision.ZoneID != e.decided.ZoneID {
		d := decision
		e.recorder.Record(journal.Event{Kind: journal.DecisionChange, Ts: t.Ts, Decision: &d})
	}
	e.decided = decision

	e.publish(t.Ts, aggregate, candle, decision, e.narrator.Narrate(decision, fused), sess)
	return nil
}

func (e *Engine) reject(t signal.Tick, reason string, err error) error {
	e.rejected++
	metrics.TicksRejected.WithLabelValues(reason).Inc()
	prev := *e.snap.Load()
	prev.Rejected = e.rejected
	prev.Dropped = e.dropped()
	e.snap.Store(&prev)
	return fmt.Errorf("tick at %s: %w", t.Ts.Format(time.RFC3339Nano), err)
}

// detect returns the id of a zone opened on this tick, if any.
func (e *Engine) detect(b orderflow.Bucket, sess string, at time.Time) string {
	det, ok, err := e.detector.Detect(b, e.hist, e.registry, sess, at)
	if err != nil {
		metrics.InvariantViolations.WithLabelValues("detect").Inc()
		e.log.Error().Err(err).Float64("px", b.Price).Msg("zone detection refused")
		return ""
	}
	if !ok {
		return ""
	}
	z := det.Zone
	switch det.Outcome {
	case iceberg.Opened:
		metrics.ZonesDetected.WithLabelValues(string(z.Side)).Inc()
		e.log.Info().Str("zone", z.ID).Str("side", string(z.Side)).Float64("low", z.PriceLow).
			Float64("high", z.PriceHigh).Float64("ratio", z.Ratio).Int("occ", z.Occurrences).Msg("iceberg zone opened")
		e.recorder.Record(journal.Event{Kind: journal.ZoneOpened, Ts: at, Zone: &z})
		return z.ID
	case iceberg.Widened:
		e.recorder.Record(journal.Event{Kind: journal.ZoneWidened, Ts: at, Zone: &z})
	}
	return ""
}

// evaluate grades every live zone against the tick. A zone opened on this tick waits for
// subsequent price action.
func (e *Engine) evaluate(t signal.Tick, candle signal.Candle, fresh string) {
	for _, z := range e.registry.Active() {
		if z.ID == fresh {
			continue
		}
		observed, err := e.registry.Observe(z.ID, t.Price, t.Ts)
		if err != nil {
			e.violation(z, err)
			continue
		}
		next := e.evaluator.Evaluate(observed, t.Price, candle, t.Ts)
		if next == observed.State {
			continue
		}
		if err := e.registry.Transition(z.ID, next, t.Ts); err != nil {
			e.violation(z, err)
			continue
		}
		metrics.ZoneTransitions.WithLabelValues(next.String()).Inc()
		e.log.Info().Str("zone", z.ID).Str("from", observed.State.String()).Str("to", next.String()).
			Float64("px", t.Price).Msg("zone transition")
		updated, _ := e.registry.Get(z.ID)
		e.recorder.Record(journal.Event{
			Kind: journal.ZoneTransition,
			Ts:   t.Ts,
			Zone: &updated,
			From: observed.State.String(),
			To:   next.String(),
		})
	}
}

func (e *Engine) violation(z iceberg.Zone, err error) {
	kind := "transition"
	if errors.Is(err, iceberg.ErrTerminal) {
		kind = "terminal"
	}
	metrics.InvariantViolations.WithLabelValues(kind).Inc()
	e.log.Error().Err(err).Str("zone", z.ID).Msg("zone evaluation aborted")
}

func (e *Engine) publish(ts time.Time, aggregate orderflow.Snapshot, candle signal.Candle, d signal.Decision, narrative, sess string) {
	e.seq++
	e.snap.Store(&Snapshot{
		Seq:       e.seq,
		Ts:        ts,
		Aggregate: aggregate,
		Candle:    candle,
		Top:       e.hist.LastN(e.cfg.TopN),
		Ladder:    e.hist.Ladder(),
		Zones:     e.registry.Snapshot(),
		Decision:  d,
		Narrative: narrative,
		Session:   sess,
		Applied:   e.applied,
		Rejected:  e.rejected,
		Dropped:   e.dropped(),
	})
}

func (e *Engine) dropped() uint64 {
	if e.inbox == nil {
		return 0
	}
	return e.inbox.Dropped()
}
