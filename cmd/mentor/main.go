package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/api"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/config"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/exchange"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/journal"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/pipeline"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/risk"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/util"
)

const (
	exitConfig = 1
	exitFeed   = 2

	// recent events served by GET /journal
	journalCapacity = 1024
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	envPath := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	boot := util.NewLogger("info")

	cfg, err := loadConfig(*configPath, *envPath)
	if err != nil {
		boot.Error().Err(err).Str("path", *configPath).Msg("load config")
		return exitConfig
	}
	log := util.NewFileLogger(cfg.App.LogLevel, cfg.App.LogFile).With().Str("app", cfg.App.Name).Logger()

	engineCfg, err := pipeline.FromConfig(cfg)
	if err != nil {
		log.Error().Err(err).Msg("engine config")
		return exitConfig
	}

	metricsSrv := metrics.Serve(cfg.App.MetricsAddr)
	defer metricsSrv.Close()
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	book := risk.NewBook(cfg.Risk.Balance)
	if cfg.Risk.Locked {
		book.Lock()
	}

	ledger := journal.NewLedger(journalCapacity)
	recorders := journal.Multi{ledger}
	if cfg.Journal.EventsPath != "" {
		rec, err := journal.NewJSONLRecorder(cfg.Journal.EventsPath, log)
		if err != nil {
			log.Error().Err(err).Msg("open event journal")
			return exitConfig
		}
		defer rec.Close()
		recorders = append(recorders, rec)
	}

	engine := pipeline.NewEngine(engineCfg, log, pipeline.WithRiskStore(book), pipeline.WithJournal(recorders))
	restoreRegistry(engine, cfg.Journal.RegistryPath, log)

	feed, err := exchange.NewFeed(cfg.Feed.Provider, cfg.Market.Symbol, log,
		exchange.WithURL(cfg.Feed.URL),
		exchange.WithSeed(cfg.Feed.Seed),
		exchange.WithInterval(config.Millis(cfg.Feed.IntervalMs, 200*time.Millisecond)),
		exchange.WithMaxRetries(cfg.Feed.MaxRetries),
	)
	if err != nil {
		log.Error().Err(err).Msg("tick source")
		return exitFeed
	}

	inbox := pipeline.NewInbox(cfg.Feed.BufferSize)
	ticks := make(chan signal.Tick)
	feedErr := make(chan error, 1)
	go func() {
		err := feed.Run(ctx, ticks)
		close(ticks)
		feedErr <- err
	}()
	go inbox.Pump(ctx, ticks)

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx, inbox) }()

	server := api.NewServer(api.Config{
		Addr:           cfg.HTTP.Addr,
		RequestTimeout: config.Millis(cfg.HTTP.RequestTimeoutMs, 2*time.Second),
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		AllowOrigins:   cfg.HTTP.AllowOrigins,
		StallAfter:     engineCfg.StallTimeout,
		DefaultDays:    cfg.Iceberg.MemoryDays,
	}, engine, log, api.WithJournal(ledger), api.WithSession(book))
	httpErr := server.Start()

	log.Info().Str("symbol", cfg.Market.Symbol).Str("provider", feed.Provider()).Msg("mentor started")

	code := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-feedErr:
		if err != nil {
			log.Error().Err(err).Msg("tick source gave up")
			code = exitFeed
		}
		cancel()
	case err, ok := <-httpErr:
		if ok && err != nil {
			log.Error().Err(err).Msg("http api stopped")
			code = 1
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	// the engine finishes the tick it is applying before Run returns
	if err := <-engineDone; err != nil {
		log.Warn().Err(err).Msg("engine stopped")
	}

	snap := engine.Snapshot()
	if cfg.Journal.RegistryPath != "" {
		if err := journal.WriteRegistry(cfg.Journal.RegistryPath, snap.Zones); err != nil {
			log.Error().Err(err).Msg("dump registry")
		} else {
			log.Info().Int("zones", len(snap.Zones)).Str("path", cfg.Journal.RegistryPath).Msg("registry saved")
		}
	}
	log.Info().Uint64("applied", snap.Applied).Uint64("rejected", snap.Rejected).Uint64("dropped", inbox.Dropped()).Msg("stopped")
	return code
}

func loadConfig(path, envPath string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	dotenv, err := config.ReadDotEnv(envPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(config.EnvLookup(dotenv)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// restoreRegistry reloads zones saved by a previous run. A missing file is not an error.
func restoreRegistry(engine *pipeline.Engine, path string, log zerolog.Logger) {
	if path == "" {
		return
	}
	zones, err := journal.ReadRegistry(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("restore registry")
		return
	}
	restored, err := engine.Restore(zones)
	if err != nil {
		log.Warn().Err(err).Msg("skipped saved zones")
	}
	log.Info().Int("zones", restored).Str("path", path).Msg("registry restored")
}
