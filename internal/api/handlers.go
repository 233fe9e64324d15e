package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/iceberg"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/orderflow"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

type bucketView struct {
	Price float64 `json:"price"`
	Buy   int64   `json:"buy"`
	Sell  int64   `json:"sell"`
	Delta int64   `json:"delta"`
}

type zoneView struct {
	ID          string        `json:"id"`
	Side        signal.Side   `json:"side"`
	PriceLow    float64       `json:"price_low"`
	PriceHigh   float64       `json:"price_high"`
	State       iceberg.State `json:"state"`
	CreatedAt   time.Time     `json:"created_ts"`
	LastSeen    time.Time     `json:"last_seen_ts"`
	Confidence  float64       `json:"confidence"`
	Occurrences int           `json:"occurrences"`
	Sessions    []string      `json:"sessions"`
}

type decisionView struct {
	signal.Decision
	Narrative string `json:"narrative"`
}

type healthView struct {
	Status      string    `json:"status"`
	Seq         uint64    `json:"seq"`
	LastTick    time.Time `json:"last_tick_ts"`
	Session     string    `json:"session"`
	Applied     uint64    `json:"applied"`
	Rejected    uint64    `json:"rejected"`
	Dropped     uint64    `json:"dropped"`
	ActiveZones int       `json:"active_zones"`
}

func buckets(in []orderflow.Bucket) []bucketView {
	out := make([]bucketView, len(in))
	for i, b := range in {
		out[i] = bucketView{Price: b.Price, Buy: b.Buy, Sell: b.Sell, Delta: b.Delta}
	}
	return out
}

func zones(in []iceberg.Zone) []zoneView {
	out := make([]zoneView, len(in))
	for i, z := range in {
		sessions := z.Sessions
		if sessions == nil {
			sessions = []string{}
		}
		out[i] = zoneView{
			ID:          z.ID,
			Side:        z.Side,
			PriceLow:    z.PriceLow,
			PriceHigh:   z.PriceHigh,
			State:       z.State,
			CreatedAt:   z.CreatedAt,
			LastSeen:    z.LastSeen,
			Confidence:  z.Confidence,
			Occurrences: z.Occurrences,
			Sessions:    sessions,
		}
	}
	return out
}

func (s *Server) handleOrderflow(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, buckets(snap.Top))
}

func (s *Server) handleLadder(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, buckets(snap.Ladder))
}

func (s *Server) handleMemory(c *gin.Context) {
	days := s.cfg.DefaultDays
	if raw, present := c.GetQuery("days"); present {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(c, http.StatusBadRequest, "bad_request", "days must be a non-negative integer")
			return
		}
		days = n
	}
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, zones(snap.Recent(days)))
}

func (s *Server) handleDecision(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, decisionView{Decision: snap.Decision, Narrative: snap.Narrative})
}

func (s *Server) handleHealth(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	active := 0
	for _, z := range snap.Zones {
		if z.State.Live() {
			active++
		}
	}
	status := "ok"
	switch {
	case snap.Applied == 0:
		status = "warming_up"
	case s.now().Sub(snap.Ts) > s.cfg.StallAfter:
		status = "stalled"
	}
	c.JSON(http.StatusOK, healthView{
		Status:      status,
		Seq:         snap.Seq,
		LastTick:    snap.Ts,
		Session:     snap.Session,
		Applied:     snap.Applied,
		Rejected:    snap.Rejected,
		Dropped:     snap.Dropped,
		ActiveZones: active,
	})
}

const defaultJournalLimit = 100

// handleJournal returns the newest events, oldest first; limit=0 returns everything retained.
func (s *Server) handleJournal(c *gin.Context) {
	limit := defaultJournalLimit
	if raw, present := c.GetQuery("limit"); present {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(c, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events := s.events.Snapshot()
	if c.Request.Context().Err() != nil {
		s.fail(c, http.StatusGatewayTimeout, "timeout", "request deadline exceeded")
		return
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.book.Session())
}

func (s *Server) handleLock(c *gin.Context) {
	s.book.Lock()
	s.log.Info().Msg("session locked by operator")
	c.JSON(http.StatusOK, s.book.Session())
}

func (s *Server) handleUnlock(c *gin.Context) {
	s.book.Unlock()
	s.log.Info().Msg("session unlocked by operator")
	c.JSON(http.StatusOK, s.book.Session())
}

type resultRequest struct {
	PnL *float64   `json:"pnl"`
	Ts  *time.Time `json:"ts"`
}

// handleResult records a closed trade; ts defaults to the time of the request.
func (s *Server) handleResult(c *gin.Context) {
	var req resultRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PnL == nil {
		s.fail(c, http.StatusBadRequest, "bad_request", "body must be {\"pnl\": number, \"ts\": RFC3339 optional}")
		return
	}
	at := s.now()
	if req.Ts != nil {
		at = *req.Ts
	}
	if err := s.book.RecordResult(*req.PnL, at); err != nil {
		s.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	state := s.book.Session()
	s.log.Info().Float64("pnl", *req.PnL).Int("losses", state.Losses).Float64("balance", state.Balance).Msg("trade result recorded")
	c.JSON(http.StatusOK, state)
}
