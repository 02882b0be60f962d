package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/sentryd-project/sentryd/internal/intel"
)

// stubProvider serves canned intelligence results.
type stubProvider struct {
	results map[string]intel.Result
	err     error
}

func (p *stubProvider) Fetch(ctx context.Context, ip string) (intel.Result, error) {
	if p.err != nil {
		return intel.Result{}, p.err
	}
	if res, ok := p.results[ip]; ok {
		res.IP = ip
		res.FetchedAt = time.Now().UTC()
		return res, nil
	}
	return intel.Result{IP: ip, FetchedAt: time.Now().UTC()}, nil
}

type detectorFixture struct {
	detector *Detector
	store    *stubStore
	metrics  *Metrics
}

func newDetectorFixture(t *testing.T, provider intel.Provider, mutate func(*Config)) *detectorFixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Alerts.ScoreThreshold = 0 // alert on everything unless a test raises it
	if mutate != nil {
		mutate(cfg)
	}

	logger := zerolog.Nop()
	metrics := NewMetrics()
	store := newStubStore()
	cache := intel.NewCache(intel.DefaultCacheConfig(), provider, logger)
	recorder := NewAttackRecorder(store, cfg.Recorder, logger, metrics)
	limiter := NewRateLimiter(cfg.Alerts.Window, cfg.Alerts.MaxPerSource, cfg.Alerts.MaxPerType)
	dispatcher := NewAlertDispatcher(cfg.Alerts, limiter, recorder, nil, logger, metrics)
	detector := NewDetector(cfg.Detection, cache, NewThreatScorer(cfg.Scoring), NewRecommender(), recorder, dispatcher, logger, metrics)

	return &detectorFixture{detector: detector, store: store, metrics: metrics}
}

func classifiedRecord(label AttackLabel, confidence float64, sourceIP string) *ClassifiedRecord {
	return &ClassifiedRecord{
		Label:      label,
		Confidence: map[AttackLabel]float64{label: confidence},
		SourceIP:   sourceIP,
		DestPort:   80,
		Timestamp:  time.Now().UTC(),
	}
}

func TestDetectorIgnoresNormalTraffic(t *testing.T) {
	f := newDetectorFixture(t, &stubProvider{}, nil)

	ev := f.detector.Handle(context.Background(), classifiedRecord(LabelNormal, 0.99, "203.0.113.1"))
	if ev != nil {
		t.Fatalf("normal traffic produced an event: %+v", ev)
	}
	if got := testutil.ToFloat64(f.metrics.RecordsRejected); got != 1 {
		t.Errorf("RecordsRejected = %v, want 1", got)
	}
	if len(f.store.saved) != 0 {
		t.Error("normal traffic must not be persisted")
	}
}

func TestDetectorIgnoresLowConfidence(t *testing.T) {
	f := newDetectorFixture(t, &stubProvider{}, nil)

	// DOS threshold defaults to 0.70.
	if ev := f.detector.Handle(context.Background(), classifiedRecord(LabelDOS, 0.69, "203.0.113.1")); ev != nil {
		t.Fatalf("sub-threshold detection produced an event: %+v", ev)
	}
	if ev := f.detector.Handle(context.Background(), classifiedRecord(LabelDOS, 0.70, "203.0.113.1")); ev == nil {
		t.Fatal("detection at the threshold should produce an event")
	}
}

func TestDetectorFullPipeline(t *testing.T) {
	provider := &stubProvider{results: map[string]intel.Result{
		"203.0.113.7": {Country: "Netherlands", CountryCode: "NL", VPNProbability: 0.9, IsVPN: true},
	}}
	f := newDetectorFixture(t, provider, nil)

	ev := f.detector.Handle(context.Background(), classifiedRecord(LabelDOS, 0.9, "203.0.113.7"))
	if ev == nil {
		t.Fatal("expected an attack event")
	}
	if ev.Intel.CountryCode != "NL" || !ev.Intel.IsVPN {
		t.Errorf("enrichment missing: %+v", ev.Intel)
	}
	if ev.Score <= 0 {
		t.Errorf("score not computed: %v", ev.Score)
	}
	if len(ev.Recommendations) == 0 {
		t.Error("recommendations not attached")
	}
	if ev.Seq == 0 {
		t.Error("event not recorded before returning")
	}
	if ev.Severity != SeverityCritical {
		t.Errorf("severity = %v, want CRITICAL for DOS", ev.Severity)
	}
	// Dispatcher not started: the deliverable alert is queued as NOT_SENT.
	if ev.AlertStatus != AlertNotSent {
		t.Errorf("alert status = %v, want NOT_SENT pending delivery", ev.AlertStatus)
	}
	if got := testutil.ToFloat64(f.metrics.AttacksDetected.WithLabelValues("DOS")); got != 1 {
		t.Errorf("AttacksDetected{DOS} = %v, want 1", got)
	}
}

func TestDetectorDegradesWhenProviderDown(t *testing.T) {
	f := newDetectorFixture(t, &stubProvider{err: errors.New("provider unreachable")}, nil)

	ev := f.detector.Handle(context.Background(), classifiedRecord(LabelU2R, 0.95, "203.0.113.7"))
	if ev == nil {
		t.Fatal("provider outage must not abort detection")
	}
	if !ev.Intel.Unknown {
		t.Error("failed enrichment should yield the unknown sentinel")
	}
	if ev.Seq == 0 {
		t.Error("event should still be recorded")
	}
}

func TestDetectorMutedSourceRecordedButSuppressed(t *testing.T) {
	f := newDetectorFixture(t, &stubProvider{}, func(cfg *Config) {
		cfg.Detection.AllowSourceIPs = []string{"198.51.100.10"}
	})

	ev := f.detector.Handle(context.Background(), classifiedRecord(LabelR2L, 0.9, "198.51.100.10"))
	if ev == nil {
		t.Fatal("muted sources are still detected")
	}
	if ev.Seq == 0 {
		t.Error("muted detection should still be recorded")
	}
	if ev.AlertStatus != AlertSuppressed {
		t.Errorf("alert status = %v, want SUPPRESSED", ev.AlertStatus)
	}
	if status, reason := f.store.statusOf(ev.Seq); status != AlertSuppressed || reason != "source on allow-list" {
		t.Errorf("persisted status = %v reason = %q", status, reason)
	}
}

func TestDetectorSurvivesStorageOutage(t *testing.T) {
	f := newDetectorFixture(t, &stubProvider{}, nil)
	f.store.failAll = true

	ev := f.detector.Handle(context.Background(), classifiedRecord(LabelProbe, 0.9, "203.0.113.7"))
	if ev == nil {
		t.Fatal("storage outage must not abort detection")
	}
	if ev.Seq != 0 {
		t.Error("deferred write must not stamp a sequence id")
	}
	if f.detector.recorder.QueueDepth() != 1 {
		t.Errorf("overflow queue depth = %d, want 1", f.detector.recorder.QueueDepth())
	}
}

func TestDetectorHandleBatch(t *testing.T) {
	f := newDetectorFixture(t, &stubProvider{}, nil)

	recs := []*ClassifiedRecord{
		classifiedRecord(LabelDOS, 0.9, "203.0.113.1"),
		classifiedRecord(LabelNormal, 0.99, "203.0.113.2"),
		classifiedRecord(LabelProbe, 0.5, "203.0.113.3"), // below PROBE threshold
		classifiedRecord(LabelU2R, 0.95, "203.0.113.4"),
	}
	events := f.detector.HandleBatch(context.Background(), recs)
	if len(events) != 2 {
		t.Fatalf("detections = %d, want 2", len(events))
	}
	if events[0].Label != LabelDOS || events[1].Label != LabelU2R {
		t.Errorf("unexpected detections: %v, %v", events[0].Label, events[1].Label)
	}
}
