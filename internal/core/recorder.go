package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AttackRecorder performs the durable write for every detection. Detection
// must never be lost to a storage hiccup, so a failed write goes through a
// bounded retry-with-backoff, then into a bounded in-memory overflow queue
// that a background loop drains. Only when the queue is also full does the
// recorder drop the oldest unwritten event, logging a RECORD_DROPPED system
// event as the last resort.
type AttackRecorder struct {
	store   EventStore
	cfg     RecorderConfig
	logger  zerolog.Logger
	metrics *Metrics

	mu       sync.Mutex
	overflow []*AttackEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAttackRecorder creates a recorder over the given store.
func NewAttackRecorder(store EventStore, cfg RecorderConfig, logger zerolog.Logger, metrics *Metrics) *AttackRecorder {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AttackRecorder{
		store:    store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "attack_recorder").Logger(),
		metrics:  metrics,
		overflow: make([]*AttackEvent, 0, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Record durably writes the event plus its aggregates. On success the
// store-assigned sequence id is stamped on the event. On persistent failure
// the event is queued for a later flush cycle and Record returns an error so
// the caller knows the write is deferred.
func (r *AttackRecorder) Record(ctx context.Context, ev *AttackEvent) (int64, error) {
	seq, err := r.writeWithRetry(ctx, ev)
	if err == nil {
		ev.Seq = seq
		r.metrics.EventsRecorded.Inc()
		return seq, nil
	}

	r.enqueue(ev)
	r.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("event write deferred to overflow queue")
	return 0, fmt.Errorf("recording event %s: %w", ev.ID, err)
}

// UpdateAlertStatus performs the terminal alert-status write. Best effort: a
// failure here is logged, never propagated into the detection path.
func (r *AttackRecorder) UpdateAlertStatus(ctx context.Context, ev *AttackEvent) {
	if ev.Seq == 0 {
		// Event is still in the overflow queue; its in-memory copy carries
		// the status and will be written whole on flush.
		return
	}
	if err := r.store.UpdateAlertStatus(ctx, ev.Seq, ev.AlertStatus, ev.AlertError); err != nil {
		r.logger.Error().Err(err).Int64("seq", ev.Seq).
			Str("status", ev.AlertStatus.String()).
			Msg("failed to persist alert status")
	}
}

func (r *AttackRecorder) writeWithRetry(ctx context.Context, ev *AttackEvent) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		seq, err := r.store.SaveEvent(ctx, ev)
		if err == nil {
			return seq, nil
		}
		lastErr = err
		r.metrics.RecordRetries.Inc()
	}
	return 0, lastErr
}

func (r *AttackRecorder) enqueue(ev *AttackEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.overflow) >= r.cfg.QueueSize {
		dropped := r.overflow[0]
		r.overflow = r.overflow[1:]
		r.metrics.RecordsDropped.Inc()
		r.logger.Error().
			Str("kind", "RECORD_DROPPED").
			Str("event_id", dropped.ID).
			Str("source_ip", dropped.SourceIP).
			Str("label", dropped.Label.String()).
			Msg("overflow queue full — oldest unwritten event dropped")
	}
	r.overflow = append(r.overflow, ev)
}

// QueueDepth returns the number of events awaiting a flush.
func (r *AttackRecorder) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.overflow)
}

// Start launches the background flush loop.
func (r *AttackRecorder) Start() {
	r.wg.Add(1)
	go r.flushLoop()
}

// Stop halts the flush loop after a final drain attempt.
func (r *AttackRecorder) Stop() {
	r.cancel()
	r.wg.Wait()
	r.Flush(context.Background())
	r.logger.Info().Int("unwritten", r.QueueDepth()).Msg("attack recorder stopped")
}

func (r *AttackRecorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Flush(r.ctx)
		}
	}
}

// Flush retries every queued event once, in arrival order. Events that still
// fail stay queued for the next cycle.
func (r *AttackRecorder) Flush(ctx context.Context) {
	r.mu.Lock()
	pending := r.overflow
	r.overflow = make([]*AttackEvent, 0, r.cfg.QueueSize)
	r.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	var stillFailing []*AttackEvent
	for _, ev := range pending {
		seq, err := r.store.SaveEvent(ctx, ev)
		if err != nil {
			stillFailing = append(stillFailing, ev)
			continue
		}
		ev.Seq = seq
		r.metrics.EventsRecorded.Inc()
	}

	if len(stillFailing) > 0 {
		r.mu.Lock()
		// Preserve arrival order: re-queued events go before anything that
		// arrived during the flush.
		r.overflow = append(stillFailing, r.overflow...)
		if excess := len(r.overflow) - r.cfg.QueueSize; excess > 0 {
			for _, dropped := range r.overflow[:excess] {
				r.metrics.RecordsDropped.Inc()
				r.logger.Error().
					Str("kind", "RECORD_DROPPED").
					Str("event_id", dropped.ID).
					Msg("overflow queue full after flush — oldest unwritten event dropped")
			}
			r.overflow = r.overflow[excess:]
		}
		r.mu.Unlock()
		r.logger.Warn().Int("pending", len(stillFailing)).Msg("storage still unavailable — events remain queued")
	} else {
		r.logger.Info().Int("flushed", len(pending)).Msg("overflow queue drained")
	}
}
