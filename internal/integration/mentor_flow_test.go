package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/api"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/config"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/exchange"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/iceberg"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/journal"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/mentor"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/pipeline"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/risk"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/session"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...pipeline.Option) *pipeline.Engine {
	t.Helper()
	cfg, err := pipeline.FromConfig(config.Default())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	return pipeline.NewEngine(cfg, zerolog.Nop(), opts...)
}

func tickAt(i int, price float64, qty int64, side signal.Side) signal.Tick {
	return signal.Tick{Price: price, Qty: qty, Side: side, Ts: t0.Add(time.Duration(i) * 200 * time.Millisecond)}
}

// printSellAt3360 warms the book with balanced two-sided trade above 3360, then prints
// 17,500 sold at 3360. Returns the index of the next tick.
func printSellAt3360(t *testing.T, e *pipeline.Engine) int {
	t.Helper()
	for i := 0; i < 60; i++ {
		side, price := signal.Buy, 3361.0
		if i%2 == 1 {
			side = signal.Sell
		}
		if (i/2)%2 == 1 {
			price = 3362
		}
		mustApply(t, e, tickAt(i, price, 100, side))
	}
	for i := 60; i < 65; i++ {
		mustApply(t, e, tickAt(i, 3360, 3500, signal.Sell))
	}
	return 65
}

func mustApply(t *testing.T, e *pipeline.Engine, tk signal.Tick) {
	t.Helper()
	if err := e.Apply(tk); err != nil {
		t.Fatalf("apply %+v: %v", tk, err)
	}
}

func onlyZone(t *testing.T, e *pipeline.Engine) iceberg.Zone {
	t.Helper()
	zones := e.Snapshot().Zones
	if len(zones) != 1 {
		t.Fatalf("expected one zone, got %d", len(zones))
	}
	return zones[0]
}

func getJSON(t *testing.T, h http.Handler, path string, out any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: status %d (%s)", path, w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func TestSellIcebergIsDetectedAndTraded(t *testing.T) {
	e := newEngine(t, pipeline.WithSessions(session.Fixed(session.London)))
	printSellAt3360(t, e)

	z := onlyZone(t, e)
	if z.Side != signal.Sell || z.PriceLow != 3360 || z.PriceHigh != 3360 || z.State != iceberg.Active {
		t.Fatalf("unexpected zone %+v", z)
	}
	d := e.Snapshot().Decision
	if d.Decision != signal.Trade || d.Bias != signal.Sell || d.Confidence < 0.7 {
		t.Fatalf("expected a SELL trade, got %+v", d)
	}
}

func TestSellZoneSucceedsAfterMinMove(t *testing.T) {
	e := newEngine(t, pipeline.WithSessions(session.Fixed(session.London)))
	next := printSellAt3360(t, e)
	for px := 3359.0; px >= 3345; px-- {
		mustApply(t, e, tickAt(next, px, 100, signal.Buy))
		next++
	}

	z := onlyZone(t, e)
	if z.State != iceberg.Success {
		t.Fatalf("expected SUCCESS after a 15 point move, got %s", z.State)
	}
	if z.Low != 3345 {
		t.Fatalf("expected low 3345, got %v", z.Low)
	}
	d := e.Snapshot().Decision
	if d.Decision != signal.Wait || !strings.Contains(d.Reason, mentor.ReasonNoZone) {
		t.Fatalf("expected WAIT once the zone resolved, got %+v", d)
	}

	var memory []map[string]any
	getJSON(t, api.NewServer(api.Config{}, e, zerolog.Nop()).Handler(), "/iceberg/memory?days=3", &memory)
	if len(memory) != 1 || memory[0]["state"] != "SUCCESS" || memory[0]["id"] != z.ID {
		t.Fatalf("memory endpoint disagrees with the registry: %v", memory)
	}
}

func TestSellZoneFailsOnBreak(t *testing.T) {
	ledger := journal.NewLedger(0)
	e := newEngine(t, pipeline.WithJournal(ledger), pipeline.WithSessions(session.Fixed(session.London)))
	next := printSellAt3360(t, e)
	mustApply(t, e, tickAt(next, 3360.01, 100, signal.Buy))

	if z := onlyZone(t, e); z.State != iceberg.Failed {
		t.Fatalf("expected FAILED on a break of the band, got %s", z.State)
	}
	var failed int
	for _, ev := range ledger.Snapshot() {
		if ev.Kind == journal.ZoneTransition && ev.To == iceberg.Failed.String() {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected one FAILED transition event, got %d", failed)
	}

	// terminal zones stay terminal whatever price does next
	mustApply(t, e, tickAt(next+1, 3340, 100, signal.Buy))
	if z := onlyZone(t, e); z.State != iceberg.Failed {
		t.Fatalf("terminal zone changed state to %s", z.State)
	}
}

func TestRepeatedLevelBuildsChain(t *testing.T) {
	e := newEngine(t, pipeline.WithSessions(session.Fixed(session.NewYork)))
	seeded := []iceberg.Zone{
		{ID: "asia", Side: signal.Sell, PriceLow: 3360, PriceHigh: 3360, State: iceberg.Success,
			CreatedAt: t0.Add(-30 * time.Hour), LastSeen: t0.Add(-29 * time.Hour), Occurrences: 1, Sessions: []string{session.Asia}},
		{ID: "london", Side: signal.Sell, PriceLow: 3360, PriceHigh: 3360, State: iceberg.Failed,
			CreatedAt: t0.Add(-6 * time.Hour), LastSeen: t0.Add(-5 * time.Hour), Occurrences: 2, Sessions: []string{session.Asia, session.London}},
	}
	for _, z := range seeded {
		if err := e.Registry().Put(z); err != nil {
			t.Fatalf("seed %s: %v", z.ID, err)
		}
	}
	printSellAt3360(t, e)

	active := e.Registry().Active()
	if len(active) != 1 {
		t.Fatalf("expected one live zone, got %d", len(active))
	}
	z := active[0]
	if z.Occurrences != 3 || len(z.Sessions) != 3 {
		t.Fatalf("expected occurrence 3 across three sessions, got %d %v", z.Occurrences, z.Sessions)
	}
	fused := mentor.Fuse(3360, e.Registry())
	if fused.Chain.Occurrences != 3 || fused.ChainBoost != 0.20 {
		t.Fatalf("expected chain of 3 with boost 0.20, got %+v", fused)
	}
	if !strings.Contains(e.Snapshot().Narrative, "3 times") {
		t.Fatalf("narrative should mention the repetition: %q", e.Snapshot().Narrative)
	}
}

func TestLockedSessionWaits(t *testing.T) {
	e := newEngine(t, pipeline.WithRiskStore(risk.Static{Locked: true, Balance: 10000}), pipeline.WithSessions(session.Fixed(session.London)))
	printSellAt3360(t, e)

	d := e.Snapshot().Decision
	if d.Decision != signal.Wait || d.Reason != mentor.ReasonLocked {
		t.Fatalf("expected WAIT with reason %q, got %+v", mentor.ReasonLocked, d)
	}
	if d.Bias != signal.Sell {
		t.Fatalf("bias should still report the zone side, got %s", d.Bias)
	}

	var body map[string]any
	getJSON(t, api.NewServer(api.Config{}, e, zerolog.Nop()).Handler(), "/decision", &body)
	if body["decision"] != "WAIT" || body["reason"] != mentor.ReasonLocked {
		t.Fatalf("decision endpoint disagrees: %v", body)
	}
}

func TestStubFeedDrivesTheEngine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	feed, err := exchange.NewFeed(exchange.ProviderStub, "XAUUSD", zerolog.Nop(), exchange.WithInterval(5*time.Millisecond), exchange.WithSeed(3))
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}
	e := newEngine(t)
	in := pipeline.NewInbox(16)
	ticks := make(chan signal.Tick)
	go func() {
		_ = feed.Run(ctx, ticks)
		close(ticks)
	}()
	go in.Pump(ctx, ticks)
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, in) }()

	srv := api.NewServer(api.Config{}, e, zerolog.Nop())
	deadline := time.After(3 * time.Second)
	for e.Snapshot().Applied < 20 {
		select {
		case <-deadline:
			t.Fatalf("engine applied only %d ticks", e.Snapshot().Applied)
		case <-time.After(10 * time.Millisecond):
		}
	}

	var health map[string]any
	getJSON(t, srv.Handler(), "/healthz", &health)
	if health["status"] != "ok" || health["seq"].(float64) < 20 {
		t.Fatalf("unexpected health %v", health)
	}
	var ladder []map[string]float64
	getJSON(t, srv.Handler(), "/orderflow/ladder", &ladder)
	for i := 1; i < len(ladder); i++ {
		if ladder[i]["price"] <= ladder[i-1]["price"] {
			t.Fatalf("ladder not ascending at %d: %v", i, ladder)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("engine: %v", err)
	}
}

func TestRestoredZonesAreServedBeforeFirstTick(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	first := newEngine(t, pipeline.WithSessions(session.Fixed(session.London)))
	next := printSellAt3360(t, first)
	mustApply(t, first, tickAt(next, 3360.01, 100, signal.Buy))
	if err := journal.WriteRegistry(path, first.Snapshot().Zones); err != nil {
		t.Fatalf("write registry: %v", err)
	}

	saved, err := journal.ReadRegistry(path)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	second := newEngine(t)
	if n, err := second.Restore(saved); n != 1 || err != nil {
		t.Fatalf("restore: %d %v", n, err)
	}

	var memory []map[string]any
	getJSON(t, api.NewServer(api.Config{}, second, zerolog.Nop()).Handler(), "/iceberg/memory?days=3", &memory)
	if len(memory) != 1 || memory[0]["state"] != "FAILED" {
		t.Fatalf("expected the saved FAILED zone, got %v", memory)
	}
	var health map[string]any
	getJSON(t, api.NewServer(api.Config{}, second, zerolog.Nop()).Handler(), "/healthz", &health)
	if health["status"] != "warming_up" {
		t.Fatalf("no tick applied yet, got %v", health["status"])
	}
}
