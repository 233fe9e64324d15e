package pipeline

import (
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/iceberg"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/orderflow"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

// Snapshot is the immutable state after one tick was fully applied. Readers must not mutate it.
type Snapshot struct {
	Seq       uint64
	Ts        time.Time
	Aggregate orderflow.Snapshot
	Candle    signal.Candle
	Top       []orderflow.Bucket
	Ladder    []orderflow.Bucket
	Zones     []iceberg.Zone
	Decision  signal.Decision
	Narrative string
	Session   string
	Applied   uint64
	Rejected  uint64
	Dropped   uint64
}

// Recent returns zones created within the last days, newest first.
func (s *Snapshot) Recent(days int) []iceberg.Zone {
	return iceberg.FilterRecent(s.Zones, s.Ts, time.Duration(days)*24*time.Hour)
}

// Zone looks a zone up by id.
func (s *Snapshot) Zone(id string) (iceberg.Zone, bool) {
	for _, z := range s.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return iceberg.Zone{}, false
}
