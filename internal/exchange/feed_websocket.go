package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

const (
	readTimeout  = 30 * time.Second
	pingInterval = 15 * time.Second
)

// wireTick is the bridge payload. Unknown fields are ignored; quantity and timestamp are
// accepted under either name.
type wireTick struct {
	Price     float64  `json:"price"`
	Qty       int64    `json:"qty"`
	Quantity  int64    `json:"quantity"`
	Side      string   `json:"side"`
	Ts        *float64 `json:"ts"`
	Timestamp *float64 `json:"timestamp"`
}

// decodeTick parses one bridge message. Timestamps are unix seconds with a fractional part;
// messages without one are stamped with received.
func decodeTick(message []byte, received time.Time) (signal.Tick, error) {
	var w wireTick
	if err := json.Unmarshal(message, &w); err != nil {
		return signal.Tick{}, fmt.Errorf("decode tick: %w", err)
	}
	qty := w.Qty
	if qty == 0 {
		qty = w.Quantity
	}
	side, ok := signal.ParseSide(w.Side)
	if !ok {
		return signal.Tick{}, fmt.Errorf("decode tick: unknown side %q", w.Side)
	}
	ts := received
	if raw := w.Ts; raw != nil || w.Timestamp != nil {
		if raw == nil {
			raw = w.Timestamp
		}
		sec, frac := math.Modf(*raw)
		ts = time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
	}
	tick := signal.Tick{Price: w.Price, Qty: qty, Side: side, Ts: ts.UTC()}
	if !tick.Valid() {
		return signal.Tick{}, fmt.Errorf("decode tick: missing or non-positive field in %s", strings.TrimSpace(string(message)))
	}
	return tick, nil
}

func (f *Feed) runWebsocket(ctx context.Context, out chan<- signal.Tick) error {
	delay := newBackoff(f.minBackoff, f.maxBackoff)
	failures := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivered, err := f.consumeWebsocket(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered > 0 {
			failures = 0
			delay.Reset()
		}
		failures++
		if f.maxRetries > 0 && failures > f.maxRetries {
			return fmt.Errorf("%w: %d consecutive failures, last: %w", ErrSourceUnrecoverable, failures, err)
		}
		metrics.SourceReconnects.WithLabelValues(f.provider).Inc()
		wait := delay.Next()
		f.log.Warn().Err(err).Dur("retry_in", wait).Int("attempt", failures).Msg("tick source disconnected, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consumeWebsocket reads one connection until it fails and reports how many ticks it delivered.
func (f *Feed) consumeWebsocket(ctx context.Context, out chan<- signal.Tick) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	f.log.Info().Str("url", f.url).Str("symbol", f.symbol).Msg("connected tick source")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					f.log.Warn().Err(err).Msg("ping failed")
					return
				}
			case <-connCtx.Done():
				// unblock ReadMessage on shutdown
				_ = conn.SetReadDeadline(time.Now())
				return
			}
		}
	}()

	delivered := 0
	var last time.Time
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		tick, err := decodeTick(message, f.now())
		if err != nil {
			metrics.TicksRejected.WithLabelValues("decode").Inc()
			f.log.Warn().Err(err).Msg("dropping bridge message")
			continue
		}
		if tick.Ts.Before(last) {
			metrics.TicksRejected.WithLabelValues("out_of_order").Inc()
			f.log.Warn().Time("ts", tick.Ts).Time("last", last).Msg("dropping out of order tick")
			continue
		}
		last = tick.Ts

		select {
		case out <- tick:
			delivered++
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}
