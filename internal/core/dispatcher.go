package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AlertDispatcher owns the notify-or-not decision and best-effort delivery.
//
// The decision runs synchronously: score threshold first, then the rolling
// rate-limit caps. Suppressions resolve immediately and are persisted on the
// event for audit. Deliverable alerts are queued and sent by background
// workers, so delivery always happens after the recorder's durable write has
// completed — a crash mid-delivery can lose a notification but never the
// underlying event.
type AlertDispatcher struct {
	cfg       AlertConfig
	limiter   *RateLimiter
	recorder  *AttackRecorder
	notifiers []Notifier
	logger    zerolog.Logger
	metrics   *Metrics

	queue chan *AttackEvent

	// onOutcome is invoked after a delivery attempt resolves; the engine
	// uses it to publish alert outcomes to the bus.
	onOutcome func(*AttackEvent)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAlertDispatcher creates a dispatcher. Notifiers may be empty, in which
// case every deliverable alert resolves to FAILED with an explicit reason.
func NewAlertDispatcher(cfg AlertConfig, limiter *RateLimiter, recorder *AttackRecorder, notifiers []Notifier, logger zerolog.Logger, metrics *Metrics) *AlertDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AlertDispatcher{
		cfg:       cfg,
		limiter:   limiter,
		recorder:  recorder,
		notifiers: notifiers,
		logger:    logger.With().Str("component", "alert_dispatcher").Logger(),
		metrics:   metrics,
		queue:     make(chan *AttackEvent, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetOutcomeHandler registers a callback for resolved delivery attempts.
func (d *AlertDispatcher) SetOutcomeHandler(fn func(*AttackEvent)) {
	d.onOutcome = fn
}

// Dispatch decides the alerting outcome for a recorded event. Suppressions
// are final and persisted here; deliverable alerts return with status
// NOT_SENT and resolve asynchronously to SENT or FAILED.
//
// muted marks sources on the configured allow-list: still recorded, never
// notified.
func (d *AlertDispatcher) Dispatch(ctx context.Context, ev *AttackEvent, muted bool) AlertStatus {
	switch {
	case !d.cfg.Enabled:
		return d.suppress(ctx, ev, "alerting disabled")
	case muted:
		return d.suppress(ctx, ev, "source on allow-list")
	case ev.Score < d.cfg.ScoreThreshold:
		return d.suppress(ctx, ev, fmt.Sprintf("score %.1f below alert threshold %.1f", ev.Score, d.cfg.ScoreThreshold))
	case !d.limiter.Allow(ev.SourceIP, ev.Label):
		return d.suppress(ctx, ev, "rate limited")
	}

	select {
	case d.queue <- ev:
		return AlertNotSent
	default:
		ev.AlertStatus = AlertFailed
		ev.AlertError = "alert queue full"
		d.metrics.AlertsFailed.Inc()
		d.recorder.UpdateAlertStatus(ctx, ev)
		d.logger.Warn().Str("event_id", ev.ID).Msg("alert queue full — delivery abandoned")
		return AlertFailed
	}
}

func (d *AlertDispatcher) suppress(ctx context.Context, ev *AttackEvent, reason string) AlertStatus {
	ev.AlertStatus = AlertSuppressed
	ev.AlertError = reason
	d.metrics.AlertsSuppressed.Inc()
	d.recorder.UpdateAlertStatus(ctx, ev)
	d.logger.Debug().
		Str("event_id", ev.ID).
		Str("source_ip", ev.SourceIP).
		Str("reason", reason).
		Msg("alert suppressed")
	return AlertSuppressed
}

// Start launches the delivery workers and the failed-alert retry sweep.
func (d *AlertDispatcher) Start(store EventStore) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	if d.cfg.RetryInterval > 0 && store != nil {
		d.wg.Add(1)
		go d.retrySweep(store)
	}
	d.logger.Info().
		Int("workers", d.cfg.Workers).
		Int("queue_size", d.cfg.QueueSize).
		Int("channels", len(d.notifiers)).
		Msg("alert dispatcher started")
}

// Stop halts workers. Queued alerts are abandoned; their events are already
// durable.
func (d *AlertDispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info().Msg("alert dispatcher stopped")
}

func (d *AlertDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.queue:
			d.deliver(ev)
		}
	}
}

// deliver attempts each configured channel and resolves the terminal status.
// Any channel succeeding counts as SENT; failure reasons accumulate.
func (d *AlertDispatcher) deliver(ev *AttackEvent) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
	defer cancel()

	if len(d.notifiers) == 0 {
		d.resolve(ev, AlertFailed, "no notification channel configured")
		return
	}

	var failures []string
	sent := false
	for _, n := range d.notifiers {
		if err := n.Send(ctx, ev); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", n.Name(), err))
			d.logger.Warn().Err(err).
				Str("channel", n.Name()).
				Str("event_id", ev.ID).
				Msg("alert delivery failed")
			continue
		}
		sent = true
	}

	if sent {
		d.resolve(ev, AlertSent, "")
	} else {
		d.resolve(ev, AlertFailed, joinReasons(failures))
	}
}

func (d *AlertDispatcher) resolve(ev *AttackEvent, status AlertStatus, reason string) {
	ev.AlertStatus = status
	ev.AlertError = reason

	switch status {
	case AlertSent:
		d.metrics.AlertsSent.Inc()
		d.logger.Info().
			Str("event_id", ev.ID).
			Str("source_ip", ev.SourceIP).
			Str("label", ev.Label.String()).
			Float64("score", ev.Score).
			Msg("SECURITY ALERT sent")
	case AlertFailed:
		d.metrics.AlertsFailed.Inc()
	}

	d.recorder.UpdateAlertStatus(d.ctx, ev)
	if d.onOutcome != nil {
		d.onOutcome(ev)
	}
}

// retrySweep periodically re-attempts FAILED deliveries. Best effort and
// fully decoupled from the hot path: a sweep that finds nothing, or a store
// that cannot answer, just waits for the next tick.
func (d *AlertDispatcher) retrySweep(store EventStore) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			failed, err := store.FailedAlerts(d.ctx, 50)
			if err != nil {
				d.logger.Warn().Err(err).Msg("failed-alert sweep query failed")
				continue
			}
			for _, ev := range failed {
				select {
				case d.queue <- ev:
				default:
					// Queue is busy with live alerts; retry next sweep.
				}
			}
			if len(failed) > 0 {
				d.logger.Info().Int("retrying", len(failed)).Msg("re-queued failed alert deliveries")
			}
		}
	}
}

// QueueDepth returns the number of alerts awaiting delivery.
func (d *AlertDispatcher) QueueDepth() int {
	return len(d.queue)
}

func joinReasons(reasons []string) string {
	switch len(reasons) {
	case 0:
		return ""
	case 1:
		return reasons[0]
	default:
		out := reasons[0]
		for _, r := range reasons[1:] {
			out += "; " + r
		}
		return out
	}
}
