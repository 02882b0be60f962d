package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentryd-project/sentryd/internal/intel"
)

// Engine wires the full detection pipeline: bus consumption, the detector,
// durable recording, and alert dispatch, plus their background loops.
type Engine struct {
	Config     *Config
	Bus        *EventBus
	Store      EventStore
	Intel      *intel.Cache
	Detector   *Detector
	Recorder   *AttackRecorder
	Dispatcher *AlertDispatcher
	Limiter    *RateLimiter
	Metrics    *Metrics
	Logger     zerolog.Logger

	records   chan *ClassifiedRecord
	startedAt time.Time
	stopFns   []func()
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewLogger builds the root logger from config: JSON or console format,
// leveled per logging.level.
func NewLogger(cfg *Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	switch cfg.LogLevel() {
	case "debug":
		return logger.Level(zerolog.DebugLevel)
	case "warn":
		return logger.Level(zerolog.WarnLevel)
	case "error":
		return logger.Level(zerolog.ErrorLevel)
	default:
		return logger.Level(zerolog.InfoLevel)
	}
}

// NewEngine builds the pipeline from config. The store must already be open;
// choosing the driver is the caller's job so tests can inject their own.
func NewEngine(cfg *Config, store EventStore) (*Engine, error) {
	logger := NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())

	metrics := NewMetrics()

	client := intel.NewClient(cfg.Intel.Client, logger)
	cache := intel.NewCache(cfg.Intel.Cache, client, logger)
	metrics.RegisterCacheStats(
		func() int64 { return cache.Stats().Hits },
		func() int64 { return cache.Stats().Misses },
	)

	recorder := NewAttackRecorder(store, cfg.Recorder, logger, metrics)
	limiter := NewRateLimiter(cfg.Alerts.Window, cfg.Alerts.MaxPerSource, cfg.Alerts.MaxPerType)

	var notifiers []Notifier
	if cfg.Alerts.Email.Enabled {
		notifiers = append(notifiers, NewEmailNotifier(cfg.Alerts.Email, logger))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.Alerts.Webhook, logger))
	}

	dispatcher := NewAlertDispatcher(cfg.Alerts, limiter, recorder, notifiers, logger, metrics)

	detector := NewDetector(
		cfg.Detection,
		cache,
		NewThreatScorer(cfg.Scoring),
		NewRecommender(),
		recorder,
		dispatcher,
		logger,
		metrics,
	)

	workers := cfg.Detection.Workers
	if workers <= 0 {
		workers = 8
	}

	return &Engine{
		Config:     cfg,
		Store:      store,
		Intel:      cache,
		Detector:   detector,
		Recorder:   recorder,
		Dispatcher: dispatcher,
		Limiter:    limiter,
		Metrics:    metrics,
		Logger:     logger.With().Str("component", "engine").Logger(),
		records:    make(chan *ClassifiedRecord, workers*16),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start brings up the bus, background loops, and the detection workers.
func (e *Engine) Start() error {
	e.Logger.Info().Msg("starting sentryd engine")
	e.startedAt = time.Now()

	bus, err := NewEventBus(&e.Config.Bus, e.Logger)
	if err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	e.Bus = bus

	e.Recorder.Start()
	e.Dispatcher.SetOutcomeHandler(func(ev *AttackEvent) {
		if err := e.Bus.PublishAlertOutcome(ev); err != nil {
			e.Logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to publish alert outcome")
		}
	})
	e.Dispatcher.Start(e.Store)

	e.stopFns = append(e.stopFns,
		e.Intel.StartCleanup(time.Minute),
		e.Limiter.StartCleanup(time.Minute),
	)

	workers := e.Config.Detection.Workers
	if workers <= 0 {
		workers = 8
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.detectWorker()
	}

	if err := e.Bus.SubscribeRecords(e.Submit); err != nil {
		return fmt.Errorf("subscribing to records: %w", err)
	}

	e.Logger.Info().
		Int("workers", workers).
		Str("storage", e.Config.Storage.Driver).
		Msg("sentryd engine started")

	return nil
}

// Submit queues one classified record for detection. Used by the bus
// subscription and the HTTP ingest endpoint. Blocks when the worker pool is
// saturated, which pushes backpressure onto the bus consumer.
func (e *Engine) Submit(rec *ClassifiedRecord) {
	select {
	case e.records <- rec:
	case <-e.ctx.Done():
	}
}

func (e *Engine) detectWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case rec := <-e.records:
			ev := e.Detector.Handle(e.ctx, rec)
			if ev == nil {
				continue
			}
			if err := e.Bus.PublishAttack(ev); err != nil {
				e.Logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to publish attack event")
			}
		}
	}
}

// Run starts the engine and blocks until a shutdown signal is received.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		e.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-e.ctx.Done():
		e.Logger.Info().Msg("context cancelled")
	}

	return e.Shutdown()
}

// Shutdown stops intake first, then drains: workers exit, the dispatcher
// abandons queued deliveries (events are durable), the recorder flushes its
// overflow queue, and the store closes last.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down sentryd engine")
	e.cancel()
	e.wg.Wait()

	for _, stop := range e.stopFns {
		stop()
	}

	e.Dispatcher.Stop()
	e.Recorder.Stop()

	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing event bus")
		}
	}
	if err := e.Store.Close(); err != nil {
		e.Logger.Error().Err(err).Msg("error closing event store")
	}

	e.Logger.Info().Msg("sentryd engine stopped")
	return nil
}

// Context returns the engine's context.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Stats returns a runtime snapshot for the status endpoint and CLI.
func (e *Engine) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"uptime_seconds":   time.Since(e.startedAt).Seconds(),
		"pending_records":  len(e.records),
		"recorder_queue":   e.Recorder.QueueDepth(),
		"dispatcher_queue": e.Dispatcher.QueueDepth(),
		"intel_cache":      e.Intel.Stats(),
		"rate_limiter":     e.Limiter.Stats(),
	}
	if e.Bus != nil {
		stats["bus"] = e.Bus.GetMetrics()
		stats["bus_connected"] = e.Bus.IsConnected()
	}
	return stats
}
