package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sentryd-project/sentryd/internal/intel"
)

// detectionStage tracks an event's progress through the pipeline. Stages
// only move forward; no event revisits an earlier stage.
type detectionStage int

const (
	stageClassified detectionStage = iota
	stageThresholdChecked
	stageEnriched
	stageScored
	stageRecorded
	stageAlertDecided
	stageTerminal
)

func (s detectionStage) String() string {
	switch s {
	case stageClassified:
		return "CLASSIFIED"
	case stageThresholdChecked:
		return "THRESHOLD_CHECKED"
	case stageEnriched:
		return "ENRICHED"
	case stageScored:
		return "SCORED"
	case stageRecorded:
		return "RECORDED"
	case stageAlertDecided:
		return "ALERT_DECIDED"
	default:
		return "TERMINAL"
	}
}

// Detector is the per-record orchestrator: threshold check, enrichment,
// scoring, recommendation, durable recording, then the alerting decision.
//
// Each stage has its own failure policy and none of them can abort the
// stages after it: a dead intelligence provider degrades enrichment, a
// storage outage defers the write to the recorder's overflow queue, a
// delivery failure lands on the event's alert status. Detection and
// persistence never depend on external service availability.
type Detector struct {
	cfg        DetectionConfig
	intel      *intel.Cache
	scorer     *ThreatScorer
	recommend  *Recommender
	recorder   *AttackRecorder
	dispatcher *AlertDispatcher
	logger     zerolog.Logger
	metrics    *Metrics
}

// NewDetector wires the orchestrator.
func NewDetector(cfg DetectionConfig, cache *intel.Cache, scorer *ThreatScorer, recommend *Recommender, recorder *AttackRecorder, dispatcher *AlertDispatcher, logger zerolog.Logger, metrics *Metrics) *Detector {
	return &Detector{
		cfg:        cfg,
		intel:      cache,
		scorer:     scorer,
		recommend:  recommend,
		recorder:   recorder,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "detector").Logger(),
		metrics:    metrics,
	}
}

// Handle processes one classified record. It returns nil for normal traffic
// and for detections below the per-class confidence threshold; otherwise it
// returns the attack event, which has been handed to the recorder (and is
// durable or queued for durability) before any alerting was attempted.
func (d *Detector) Handle(ctx context.Context, rec *ClassifiedRecord) *AttackEvent {
	d.metrics.RecordsProcessed.Inc()
	stage := stageClassified

	// Threshold check: not an error, a normal no-op.
	if rec.Label == LabelNormal {
		d.metrics.RecordsRejected.Inc()
		return nil
	}
	confidence := rec.LabelConfidence()
	if threshold := d.cfg.ThresholdFor(rec.Label); confidence < threshold {
		d.metrics.RecordsRejected.Inc()
		d.logger.Debug().
			Str("label", rec.Label.String()).
			Float64("confidence", confidence).
			Float64("threshold", threshold).
			Msg("low confidence detection ignored")
		return nil
	}
	stage = d.advance(stage, stageThresholdChecked)

	ev := NewAttackEvent(rec)
	d.metrics.AttacksDetected.WithLabelValues(ev.Label.String()).Inc()
	d.logger.Warn().
		Str("event_id", ev.ID).
		Str("label", ev.Label.String()).
		Str("source_ip", ev.SourceIP).
		Float64("confidence", ev.Confidence).
		Msg("ATTACK DETECTED")

	// Enrichment never blocks and never fails: a provider outage yields
	// the unknown sentinel and the pipeline proceeds degraded.
	ev.Intel = d.intel.Lookup(ctx, ev.SourceIP)
	stage = d.advance(stage, stageEnriched)

	ev.Score = d.scorer.ScoreEvent(ev)
	stage = d.advance(stage, stageScored)

	ev.Recommendations = d.recommend.RecommendEvent(ev)

	// Durable write before any alerting. A failed write is already queued
	// inside the recorder; the event keeps flowing either way.
	if _, err := d.recorder.Record(ctx, ev); err != nil {
		d.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("event recording deferred")
	}
	stage = d.advance(stage, stageRecorded)

	d.dispatcher.Dispatch(ctx, ev, d.cfg.IsAllowedSource(ev.SourceIP))
	stage = d.advance(stage, stageAlertDecided)

	d.advance(stage, stageTerminal)
	return ev
}

// HandleBatch processes a batch of records, returning the detections.
func (d *Detector) HandleBatch(ctx context.Context, recs []*ClassifiedRecord) []*AttackEvent {
	events := make([]*AttackEvent, 0, len(recs))
	for _, rec := range recs {
		if ev := d.Handle(ctx, rec); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// advance enforces forward-only stage transitions.
func (d *Detector) advance(from, to detectionStage) detectionStage {
	if to <= from {
		// Transitions are hardcoded above; a regression here is a bug.
		d.logger.Error().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("invalid pipeline stage transition")
		return from
	}
	return to
}
