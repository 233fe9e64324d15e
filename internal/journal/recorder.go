package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/iceberg"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/metrics"
)

// JSONLRecorder appends events as JSON lines.
type JSONLRecorder struct {
	mu   sync.Mutex
	log  zerolog.Logger
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string, log zerolog.Logger) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		log:  log.With().Str("component", "journal").Logger(),
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single event; failures are counted and logged, never returned.
func (r *JSONLRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		metrics.JournalErrors.Inc()
		return
	}
	if err := r.enc.Encode(e); err != nil {
		metrics.JournalErrors.Inc()
		r.log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("journal write failed")
	}
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// WriteRegistry serialises zones to path as an indented JSON array, replacing the file atomically.
func WriteRegistry(path string, zones []iceberg.Zone) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("registry dir: %w", err)
	}
	data, err := json.MarshalIndent(zones, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// ReadRegistry loads a file written by WriteRegistry.
func ReadRegistry(path string) ([]iceberg.Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var zones []iceberg.Zone
	if err := json.Unmarshal(data, &zones); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return zones, nil
}
