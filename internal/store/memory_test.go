package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentryd-project/sentryd/internal/core"
	"github.com/sentryd-project/sentryd/internal/intel"
)

func memEvent(sourceIP string, label core.AttackLabel, ts time.Time) *core.AttackEvent {
	return core.NewAttackEvent(&core.ClassifiedRecord{
		Label:      label,
		Confidence: map[core.AttackLabel]float64{label: 0.9},
		SourceIP:   sourceIP,
		DestPort:   22,
		SrcBytes:   512,
		Timestamp:  ts,
	})
}

func TestMemoryStoreSaveAssignsSequence(t *testing.T) {
	s := NewMemoryStore(0, zerolog.Nop())
	defer s.Close()
	ctx := context.Background()

	ts := time.Now().UTC()
	first, err := s.SaveEvent(ctx, memEvent("203.0.113.1", core.LabelDOS, ts))
	if err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	second, _ := s.SaveEvent(ctx, memEvent("203.0.113.2", core.LabelProbe, ts))
	if first != 1 || second != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", first, second)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestMemoryStoreRecentEvents(t *testing.T) {
	s := NewMemoryStore(0, zerolog.Nop())
	defer s.Close()
	ctx := context.Background()

	base := time.Now().UTC()
	old := memEvent("203.0.113.1", core.LabelDOS, base.Add(-2*time.Hour))
	mid := memEvent("203.0.113.2", core.LabelProbe, base.Add(-30*time.Minute))
	recent := memEvent("203.0.113.3", core.LabelU2R, base)
	for _, ev := range []*core.AttackEvent{old, mid, recent} {
		s.SaveEvent(ctx, ev)
	}

	got, err := s.RecentEvents(ctx, base.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2 within the window", len(got))
	}
	// Newest first.
	if got[0].SourceIP != "203.0.113.3" || got[1].SourceIP != "203.0.113.2" {
		t.Errorf("order wrong: %s, %s", got[0].SourceIP, got[1].SourceIP)
	}

	limited, _ := s.RecentEvents(ctx, time.Time{}, 1)
	if len(limited) != 1 || limited[0].SourceIP != "203.0.113.3" {
		t.Errorf("limit should keep the newest event, got %v", limited)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0, zerolog.Nop())
	defer s.Close()
	ctx := context.Background()

	s.SaveEvent(ctx, memEvent("203.0.113.1", core.LabelDOS, time.Now().UTC()))
	got, _ := s.RecentEvents(ctx, time.Time{}, 1)
	got[0].SourceIP = "mutated"

	again, _ := s.RecentEvents(ctx, time.Time{}, 1)
	if again[0].SourceIP != "203.0.113.1" {
		t.Error("callers must not be able to mutate stored events")
	}
}

func TestMemoryStoreSourceAggregates(t *testing.T) {
	s := NewMemoryStore(0, zerolog.Nop())
	defer s.Close()
	ctx := context.Background()

	base := time.Now().UTC()
	first := memEvent("203.0.113.1", core.LabelDOS, base.Add(-time.Hour))
	first.Score = 80
	first.Intel = intel.Result{Country: "Netherlands"}
	second := memEvent("203.0.113.1", core.LabelProbe, base)
	second.Score = 60
	s.SaveEvent(ctx, first)
	s.SaveEvent(ctx, second)
	s.SaveEvent(ctx, memEvent("203.0.113.2", core.LabelDOS, base))

	top, err := s.TopSources(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("TopSources: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("sources = %d, want 2", len(top))
	}
	agg := top[0]
	if agg.SourceIP != "203.0.113.1" || agg.Events != 2 {
		t.Fatalf("busiest source wrong: %+v", agg)
	}
	if agg.ByLabel["DOS"] != 1 || agg.ByLabel["PROBE"] != 1 {
		t.Errorf("ByLabel = %v", agg.ByLabel)
	}
	if agg.BytesSent != 1024 {
		t.Errorf("BytesSent = %d, want 1024", agg.BytesSent)
	}
	if agg.MaxScore != 80 {
		t.Errorf("MaxScore = %v, want 80 (never lowered)", agg.MaxScore)
	}
	if agg.Country != "Netherlands" {
		t.Errorf("Country = %q", agg.Country)
	}
	if !agg.FirstSeen.Equal(first.Timestamp) || !agg.LastSeen.Equal(second.Timestamp) {
		t.Errorf("seen range wrong: %v .. %v", agg.FirstSeen, agg.LastSeen)
	}
}

func TestMemoryStorePortAggregates(t *testing.T) {
	s := NewMemoryStore(0, zerolog.Nop())
	defer s.Close()
	ctx := context.Background()

	ts := time.Now().UTC()
	ssh := memEvent("203.0.113.1", core.LabelR2L, ts)
	web := memEvent("203.0.113.2", core.LabelDOS, ts)
	web.DestPort = 80
	s.SaveEvent(ctx, ssh)
	s.SaveEvent(ctx, ssh)
	s.SaveEvent(ctx, web)

	top, err := s.TopPorts(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("TopPorts: %v", err)
	}
	if len(top) != 2 || top[0].Port != 22 || top[0].Events != 2 {
		t.Fatalf("TopPorts = %+v", top)
	}
}

func TestMemoryStoreDistribution(t *testing.T) {
	s := NewMemoryStore(0, zerolog.Nop())
	defer s.Close()
	ctx := context.Background()

	ts := time.Now().UTC()
	s.SaveEvent(ctx, memEvent("203.0.113.1", core.LabelDOS, ts))
	s.SaveEvent(ctx, memEvent("203.0.113.2", core.LabelDOS, ts))
	s.SaveEvent(ctx, memEvent("203.0.113.3", core.LabelU2R, ts))

	dist, err := s.Distribution(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Distribution: %v", err)
	}
	if dist["DOS"] != 2 || dist["U2R"] != 1 {
		t.Errorf("Distribution = %v", dist)
	}
}

func TestMemoryStoreAlertStatusLifecycle(t *testing.T) {
	s := NewMemoryStore(0, zerolog.Nop())
	defer s.Close()
	ctx := context.Background()

	seq, _ := s.SaveEvent(ctx, memEvent("203.0.113.1", core.LabelDOS, time.Now().UTC()))
	if err := s.UpdateAlertStatus(ctx, seq, core.AlertFailed, "smtp: connection refused"); err != nil {
		t.Fatalf("UpdateAlertStatus: %v", err)
	}

	failed, err := s.FailedAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("FailedAlerts: %v", err)
	}
	if len(failed) != 1 || failed[0].Seq != seq {
		t.Fatalf("FailedAlerts = %+v", failed)
	}
	if failed[0].AlertError != "smtp: connection refused" {
		t.Errorf("AlertError = %q", failed[0].AlertError)
	}

	s.UpdateAlertStatus(ctx, seq, core.AlertSent, "")
	failed, _ = s.FailedAlerts(ctx, 10)
	if len(failed) != 0 {
		t.Errorf("resolved alert still listed as failed: %+v", failed)
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	s := NewMemoryStore(2, zerolog.Nop())
	defer s.Close()
	ctx := context.Background()

	ts := time.Now().UTC()
	first, _ := s.SaveEvent(ctx, memEvent("203.0.113.1", core.LabelDOS, ts))
	s.SaveEvent(ctx, memEvent("203.0.113.2", core.LabelDOS, ts))
	s.SaveEvent(ctx, memEvent("203.0.113.3", core.LabelDOS, ts))

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want capacity bound of 2", s.Len())
	}
	events, _ := s.RecentEvents(ctx, time.Time{}, 10)
	for _, ev := range events {
		if ev.Seq == first {
			t.Error("oldest event should have been evicted")
		}
	}

	// Status writes for evicted rows are silent no-ops.
	if err := s.UpdateAlertStatus(ctx, first, core.AlertSent, ""); err != nil {
		t.Errorf("UpdateAlertStatus on evicted seq: %v", err)
	}

	// Aggregates survive eviction.
	top, _ := s.TopSources(ctx, time.Time{}, 10)
	var total int64
	for _, agg := range top {
		total += agg.Events
	}
	if total != 3 {
		t.Errorf("aggregate events = %d, want 3 despite eviction", total)
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore(0, zerolog.Nop())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.SaveEvent(ctx, memEvent("203.0.113.1", core.LabelDOS, time.Now().UTC())); err == nil {
		t.Error("cancelled context should fail the write")
	}
}
