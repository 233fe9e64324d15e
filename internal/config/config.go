// Package config exposes strongly typed application configuration structs loaded from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure so callers can map it to a fatal startup error.
var ErrInvalid = errors.New("invalid configuration")

// App captures process-wide runtime settings such as name, environment, metrics, and logging.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

// Market describes the single instrument the mentor follows.
type Market struct {
	Symbol        string  `yaml:"symbol"`
	BaseTimeframe string  `yaml:"base_timeframe"`
	PriceStep     float64 `yaml:"price_step"`
}

// Feed selects and tunes the tick source.
type Feed struct {
	Provider       string `yaml:"provider"`
	URL            string `yaml:"url"`
	Seed           int64  `yaml:"seed"`
	IntervalMs     int    `yaml:"interval_ms"`
	BufferSize     int    `yaml:"buffer_size"`
	StallTimeoutMs int    `yaml:"stall_timeout_ms"`
	// MaxRetries bounds consecutive reconnect attempts; zero retries forever.
	MaxRetries int `yaml:"max_retries"`
}

// Iceberg holds the detection and outcome thresholds.
type Iceberg struct {
	MinQty     int64   `yaml:"min_qty"`
	Ratio      float64 `yaml:"ratio"`
	WindowSize int     `yaml:"window_size"`
	MemoryDays int     `yaml:"memory_days"`
	MinMove    float64 `yaml:"min_move"`
	WeakWick   float64 `yaml:"weak_wick"`
}

// Decision tunes the gate and the order-flow views.
type Decision struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	TopN                int     `yaml:"top_n"`
}

// Risk seeds the session store and position sizing.
type Risk struct {
	Balance        float64 `yaml:"balance"`
	RiskPct        float64 `yaml:"risk_pct"`
	StopPoints     float64 `yaml:"stop_points"`
	DailyLossLimit int     `yaml:"daily_loss_limit"`
	Locked         bool    `yaml:"locked"`
}

// HTTP configures the query surface.
type HTTP struct {
	Addr             string   `yaml:"addr"`
	RequestTimeoutMs int      `yaml:"request_timeout_ms"`
	RateLimitRPS     float64  `yaml:"rate_limit_rps"`
	RateLimitBurst   int      `yaml:"rate_limit_burst"`
	AllowOrigins     []string `yaml:"allow_origins"`
}

// Journal points at optional on-disk outputs.
type Journal struct {
	EventsPath   string `yaml:"events_path"`
	RegistryPath string `yaml:"registry_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Market   Market   `yaml:"market"`
	Feed     Feed     `yaml:"feed"`
	Iceberg  Iceberg  `yaml:"iceberg"`
	Decision Decision `yaml:"decision"`
	Risk     Risk     `yaml:"risk"`
	HTTP     HTTP     `yaml:"http"`
	Journal  Journal  `yaml:"journal"`
}

// Default returns the configuration used when no file or override says otherwise.
func Default() *Config {
	return &Config{
		App:      App{Name: "gold-mentor", Env: "development", MetricsAddr: ":9102", LogLevel: "info"},
		Market:   Market{Symbol: "XAUUSD", BaseTimeframe: "5m", PriceStep: 1},
		Feed:     Feed{Provider: "stub", Seed: 1, IntervalMs: 200, BufferSize: 256, StallTimeoutMs: 5000},
		Iceberg:  Iceberg{MinQty: 3000, Ratio: 3.0, WindowSize: 50, MemoryDays: 3, MinMove: 15, WeakWick: 0.2},
		Decision: Decision{ConfidenceThreshold: 0.70, TopN: 10},
		Risk:     Risk{Balance: 10000, RiskPct: 0.01, StopPoints: 10, DailyLossLimit: 1},
		HTTP: HTTP{
			Addr:             ":8080",
			RequestTimeoutMs: 2000,
			RateLimitRPS:     50,
			RateLimitBurst:   100,
			AllowOrigins:     []string{"http://localhost:5173"},
		},
	}
}

// Load reads a YAML file from disk on top of the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, set func(int64)) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		set(n)
	}
	float := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}

	str("SYMBOL", &c.Market.Symbol)
	str("BASE_TIMEFRAME", &c.Market.BaseTimeframe)
	integer("ICEBERG_MIN_QTY", func(n int64) { c.Iceberg.MinQty = n })
	float("ICEBERG_RATIO", &c.Iceberg.Ratio)
	float("CONFIDENCE_THRESHOLD", &c.Decision.ConfidenceThreshold)
	integer("WINDOW_SIZE", func(n int64) { c.Iceberg.WindowSize = int(n) })
	integer("MEMORY_DAYS", func(n int64) { c.Iceberg.MemoryDays = int(n) })
	float("MIN_MOVE", &c.Iceberg.MinMove)
	str("LOG_LEVEL", &c.App.LogLevel)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("FEED_PROVIDER", &c.Feed.Provider)
	str("FEED_URL", &c.Feed.URL)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate checks every numeric knob the core depends on.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Iceberg.MinQty > 0, "iceberg.min_qty must be > 0, got %d", c.Iceberg.MinQty)
	check(c.Iceberg.Ratio > 1.0, "iceberg.ratio must be > 1.0, got %.4f", c.Iceberg.Ratio)
	check(c.Iceberg.WindowSize > 0, "iceberg.window_size must be > 0, got %d", c.Iceberg.WindowSize)
	check(c.Iceberg.MemoryDays > 0, "iceberg.memory_days must be > 0, got %d", c.Iceberg.MemoryDays)
	check(c.Iceberg.MinMove > 0, "iceberg.min_move must be > 0, got %.4f", c.Iceberg.MinMove)
	check(c.Iceberg.WeakWick >= 0 && c.Iceberg.WeakWick <= 1, "iceberg.weak_wick must be in [0,1], got %.4f", c.Iceberg.WeakWick)
	check(c.Decision.ConfidenceThreshold >= 0 && c.Decision.ConfidenceThreshold <= 1,
		"decision.confidence_threshold must be in [0,1], got %.4f", c.Decision.ConfidenceThreshold)
	check(c.Decision.TopN > 0, "decision.top_n must be > 0, got %d", c.Decision.TopN)
	check(c.Market.PriceStep > 0, "market.price_step must be > 0, got %.4f", c.Market.PriceStep)
	if _, err := c.Timeframe(); err != nil {
		errs = append(errs, err)
	}
	check(c.Risk.StopPoints > 0, "risk.stop_points must be > 0, got %.4f", c.Risk.StopPoints)
	check(c.Risk.DailyLossLimit > 0, "risk.daily_loss_limit must be > 0, got %d", c.Risk.DailyLossLimit)
	check(c.Feed.BufferSize > 0, "feed.buffer_size must be > 0, got %d", c.Feed.BufferSize)
	check(c.HTTP.RequestTimeoutMs > 0, "http.request_timeout_ms must be > 0, got %d", c.HTTP.RequestTimeoutMs)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Timeframe parses BaseTimeframe ("5m", "1h", "30s", ...).
func (c *Config) Timeframe() (time.Duration, error) {
	tf := strings.ToLower(strings.TrimSpace(c.Market.BaseTimeframe))
	d, err := time.ParseDuration(tf)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("market.base_timeframe %q is not a positive duration", c.Market.BaseTimeframe)
	}
	return d, nil
}

// MemoryWindow is MEMORY_DAYS as a duration.
func (c *Config) MemoryWindow() time.Duration {
	return time.Duration(c.Iceberg.MemoryDays) * 24 * time.Hour
}

// Millis converts a millisecond knob, falling back when unset.
func Millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
