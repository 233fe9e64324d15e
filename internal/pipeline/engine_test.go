package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/config"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/iceberg"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/journal"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/mentor"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/risk"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/session"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := FromConfig(config.Default())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	return cfg
}

func tickAt(i int, price float64, qty int64, side signal.Side) signal.Tick {
	return signal.Tick{Price: price, Qty: qty, Side: side, Ts: t0.Add(time.Duration(i) * 200 * time.Millisecond)}
}

// warmup alternates balanced buy/sell pairs at 3361 and 3362, then prints size at 3360.
func detectionSequence() []signal.Tick {
	var ticks []signal.Tick
	for i := 0; i < 60; i++ {
		side, price := signal.Buy, 3361.0
		if i%2 == 1 {
			side = signal.Sell
		}
		if (i/2)%2 == 1 {
			price = 3362
		}
		ticks = append(ticks, tickAt(i, price, 100, side))
	}
	for i := 60; i < 65; i++ {
		ticks = append(ticks, tickAt(i, 3360, 3500, signal.Sell))
	}
	return ticks
}

func TestEngineInitialSnapshotWaits(t *testing.T) {
	e := NewEngine(testConfig(t), zerolog.Nop())
	snap := e.Snapshot()
	if snap.Seq != 0 || snap.Decision.Decision != signal.Wait || snap.Decision.Bias != signal.None {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
	if snap.Narrative == "" || len(snap.Zones) != 0 {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
}

func TestEngineDetectsZone(t *testing.T) {
	ledger := journal.NewLedger(0)
	e := NewEngine(testConfig(t), zerolog.Nop(), WithJournal(ledger), WithSessions(session.Fixed(session.London)))
	for _, tk := range detectionSequence() {
		if err := e.Apply(tk); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	snap := e.Snapshot()
	if len(snap.Zones) != 1 {
		t.Fatalf("expected one zone, got %d", len(snap.Zones))
	}
	z := snap.Zones[0]
	if z.Side != signal.Sell || z.PriceLow != 3360 || z.PriceHigh != 3360 || z.State != iceberg.Active {
		t.Fatalf("unexpected zone %+v", z)
	}
	if z.Confidence < 0.5 {
		t.Fatalf("expected confidence >= 0.5, got %v", z.Confidence)
	}
	if snap.Seq != 65 || snap.Applied != 65 {
		t.Fatalf("expected 65 applied ticks, got seq=%d applied=%d", snap.Seq, snap.Applied)
	}
	if snap.Decision.Decision != signal.Trade || snap.Decision.Bias != signal.Sell || snap.Decision.ZoneID != z.ID {
		t.Fatalf("unexpected decision %+v", snap.Decision)
	}

	var opened int
	for _, ev := range ledger.Snapshot() {
		if ev.Kind == journal.ZoneOpened {
			opened++
		}
	}
	if opened != 1 {
		t.Fatalf("expected one zone_opened event, got %d", opened)
	}
}

func TestFailedZoneDoesNotRearmFromOldVolume(t *testing.T) {
	e := NewEngine(testConfig(t), zerolog.Nop(), WithSessions(session.Fixed(session.London)))
	ticks := detectionSequence()
	i := len(ticks)
	for n := 0; n < 4; n++ {
		ticks = append(ticks, tickAt(i, 3360.01, 1, signal.Buy), tickAt(i+1, 3360, 1, signal.Buy))
		i += 2
	}
	for _, tk := range ticks {
		if err := e.Apply(tk); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	snap := e.Snapshot()
	if len(snap.Zones) != 1 || snap.Zones[0].State != iceberg.Failed {
		t.Fatalf("expected the single zone to stay FAILED, got %+v", snap.Zones)
	}
	if snap.Decision.Decision != signal.Wait {
		t.Fatalf("expected WAIT without fresh size, got %+v", snap.Decision)
	}

	// a genuine second print at the level re-opens it as the next occurrence
	if err := e.Apply(tickAt(i, 3360, 3500, signal.Sell)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	snap = e.Snapshot()
	if len(snap.Zones) != 2 {
		t.Fatalf("expected a re-entry zone, got %d zones", len(snap.Zones))
	}
	z := snap.Zones[0]
	if z.State != iceberg.Active || z.Occurrences != 2 || z.DominantQty != 3500 {
		t.Fatalf("unexpected re-entry zone %+v", z)
	}
}

func TestDailyLossLimitRollsWithMarketTime(t *testing.T) {
	run := func(lossAt time.Time) signal.Decision {
		book := risk.NewBook(10000)
		if err := book.RecordResult(-50, lossAt); err != nil {
			t.Fatalf("record: %v", err)
		}
		e := NewEngine(testConfig(t), zerolog.Nop(), WithRiskStore(book), WithSessions(session.Fixed(session.London)))
		for _, tk := range detectionSequence() {
			if err := e.Apply(tk); err != nil {
				t.Fatalf("apply: %v", err)
			}
		}
		return e.Snapshot().Decision
	}

	if d := run(t0.Add(-time.Hour)); d.Decision != signal.Wait || d.Reason != mentor.ReasonLossLimit {
		t.Fatalf("a loss earlier today should block trading, got %+v", d)
	}
	// balance is 9950 after the loss: 9950 * 1% / 10 points
	if d := run(t0.Add(-24 * time.Hour)); d.Decision != signal.Trade || d.Size < 9.949 || d.Size > 9.951 {
		t.Fatalf("yesterday's loss should roll off, got %+v", d)
	}
}

func TestRestorePublishesSavedZones(t *testing.T) {
	e := NewEngine(testConfig(t), zerolog.Nop())
	older := iceberg.Zone{ID: "older", Side: signal.Sell, PriceLow: 3360, PriceHigh: 3360, State: iceberg.Success,
		CreatedAt: t0.Add(-48 * time.Hour), LastSeen: t0.Add(-47 * time.Hour), Occurrences: 1}
	newer := iceberg.Zone{ID: "newer", Side: signal.Buy, PriceLow: 3340, PriceHigh: 3341, State: iceberg.Active,
		CreatedAt: t0.Add(-time.Hour), LastSeen: t0.Add(-time.Hour), Occurrences: 1}
	broken := iceberg.Zone{ID: "broken", Side: signal.Buy, PriceLow: 3350, PriceHigh: 3340, CreatedAt: t0}

	restored, err := e.Restore([]iceberg.Zone{older, newer, broken})
	if restored != 2 || err == nil {
		t.Fatalf("expected 2 restored and an error for the inverted band, got %d %v", restored, err)
	}
	snap := e.Snapshot()
	if snap.Seq != 1 || snap.Applied != 0 || !snap.Ts.Equal(newer.CreatedAt) {
		t.Fatalf("unexpected restored snapshot seq=%d applied=%d ts=%v", snap.Seq, snap.Applied, snap.Ts)
	}
	recent := snap.Recent(3)
	if len(recent) != 2 || recent[0].ID != "newer" || recent[1].ID != "older" {
		t.Fatalf("restored zones should be queryable before the first tick, got %+v", recent)
	}
	if snap.Decision.Decision != signal.Wait {
		t.Fatalf("restore must not invent a decision, got %+v", snap.Decision)
	}
}

func TestEngineRejectsMalformedAndOutOfOrder(t *testing.T) {
	e := NewEngine(testConfig(t), zerolog.Nop())
	if err := e.Apply(tickAt(5, 3360, 100, signal.Buy)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	before := e.Snapshot()

	if err := e.Apply(tickAt(6, 3360, 0, signal.Buy)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if err := e.Apply(signal.Tick{Price: 3360, Qty: 1, Side: "HOLD", Ts: t0.Add(time.Hour)}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for unknown side, got %v", err)
	}
	if err := e.Apply(tickAt(4, 3360, 100, signal.Buy)); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}

	after := e.Snapshot()
	if after.Seq != before.Seq || after.Aggregate != before.Aggregate || after.Rejected != 3 {
		t.Fatalf("rejected ticks changed state: before %+v after %+v", before, after)
	}
}

func TestEngineReplayIsDeterministic(t *testing.T) {
	ticks := detectionSequence()
	for i := 65; i < 90; i++ {
		ticks = append(ticks, tickAt(i, 3360-float64(i-64), 200, signal.Buy))
	}
	run := func() []iceberg.Zone {
		e := NewEngine(testConfig(t), zerolog.Nop(), WithSessions(session.Fixed(session.Asia)))
		for _, tk := range ticks {
			_ = e.Apply(tk)
		}
		return e.Snapshot().Zones
	}
	a, b := run(), run()
	if len(a) == 0 {
		t.Fatalf("expected zones from the replay")
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("replays diverged:\n%+v\n%+v", a, b)
	}
}

func TestInboxDropsOldest(t *testing.T) {
	in := NewInbox(2)
	for i := 0; i < 5; i++ {
		in.Offer(tickAt(i, 3360, 1, signal.Buy))
	}
	if in.Dropped() != 3 || in.Len() != 2 {
		t.Fatalf("expected 3 drops and 2 queued, got %d and %d", in.Dropped(), in.Len())
	}
	first := <-in.C()
	second := <-in.C()
	if !first.Ts.Equal(tickAt(3, 0, 0, "").Ts) || !second.Ts.Equal(tickAt(4, 0, 0, "").Ts) {
		t.Fatalf("expected the newest ticks to survive, got %v and %v", first.Ts, second.Ts)
	}
	in.Close()
	if in.Offer(tickAt(9, 3360, 1, signal.Buy)) {
		t.Fatalf("offer after close should fail")
	}
}

func TestRunUnderBackpressure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e := NewEngine(testConfig(t), zerolog.Nop(), WithEvalDelay(5*time.Millisecond))
	in := NewInbox(8)
	src := make(chan signal.Tick)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		in.Pump(ctx, src)
	}()

	// observe snapshots while the loop runs; sequence and timestamps must never go backwards
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, in) }()
	stop := make(chan struct{})
	monotonic := make(chan bool, 1)
	go func() {
		var lastSeq uint64
		var lastTs time.Time
		ok := true
		for {
			select {
			case <-stop:
				monotonic <- ok
				return
			default:
			}
			s := e.Snapshot()
			if s.Seq < lastSeq || s.Ts.Before(lastTs) {
				ok = false
			}
			lastSeq, lastTs = s.Seq, s.Ts
		}
	}()

	for i := 0; i < 500; i++ {
		src <- tickAt(i, 3360+float64(i%5), 100, signal.Buy)
	}
	close(src)
	wg.Wait()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	close(stop)
	if !<-monotonic {
		t.Fatalf("snapshots went backwards")
	}

	snap := e.Snapshot()
	if in.Dropped() == 0 {
		t.Fatalf("expected dropped ticks under backpressure")
	}
	if snap.Applied+in.Dropped() != 500 {
		t.Fatalf("applied %d + dropped %d should account for every tick", snap.Applied, in.Dropped())
	}
	if snap.Rejected != 0 {
		t.Fatalf("drop-oldest must not reorder ticks, got %d rejections", snap.Rejected)
	}
	for _, z := range snap.Zones {
		if z.PriceLow > z.PriceHigh || z.Ratio < 3 || z.DominantQty < 3000 {
			t.Fatalf("zone invariant broken: %+v", z)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(testConfig(t), zerolog.Nop())
	in := NewInbox(1)
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, in) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}
