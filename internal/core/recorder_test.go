package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// stubStore is an in-memory EventStore for pipeline tests with injectable
// write failures. Shared by the recorder, dispatcher, and detector tests.
type stubStore struct {
	mu        sync.Mutex
	saved     []*AttackEvent
	statuses  map[int64]AlertStatus
	reasons   map[int64]string
	nextSeq   int64
	saveCalls int

	// failNext fails this many SaveEvent calls before succeeding again;
	// failAll fails every call.
	failNext int
	failAll  bool
}

func newStubStore() *stubStore {
	return &stubStore{
		statuses: make(map[int64]AlertStatus),
		reasons:  make(map[int64]string),
	}
}

var errStoreDown = errors.New("storage unavailable")

func (s *stubStore) SaveEvent(ctx context.Context, ev *AttackEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.failAll || s.failNext > 0 {
		if s.failNext > 0 {
			s.failNext--
		}
		return 0, errStoreDown
	}
	s.nextSeq++
	cp := *ev
	cp.Seq = s.nextSeq
	s.saved = append(s.saved, &cp)
	return s.nextSeq, nil
}

func (s *stubStore) UpdateAlertStatus(ctx context.Context, seq int64, status AlertStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	s.statuses[seq] = status
	s.reasons[seq] = reason
	return nil
}

func (s *stubStore) RecentEvents(ctx context.Context, since time.Time, limit int) ([]*AttackEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AttackEvent, len(s.saved))
	copy(out, s.saved)
	return out, nil
}

func (s *stubStore) TopSources(ctx context.Context, since time.Time, limit int) ([]SourceAggregate, error) {
	return nil, nil
}

func (s *stubStore) Distribution(ctx context.Context, since time.Time) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (s *stubStore) FailedAlerts(ctx context.Context, limit int) ([]*AttackEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AttackEvent
	for _, ev := range s.saved {
		if s.statuses[ev.Seq] == AlertFailed {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubStore) Close() error { return nil }

func (s *stubStore) statusOf(seq int64) (AlertStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[seq], s.reasons[seq]
}

func testEvent(sourceIP string) *AttackEvent {
	return NewAttackEvent(&ClassifiedRecord{
		Label:      LabelDOS,
		Confidence: map[AttackLabel]float64{LabelDOS: 0.9},
		SourceIP:   sourceIP,
		DestPort:   80,
		Timestamp:  time.Now().UTC(),
	})
}

func testRecorder(store EventStore, cfg RecorderConfig) *AttackRecorder {
	return NewAttackRecorder(store, cfg, zerolog.Nop(), NewMetrics())
}

func TestRecorderWriteSuccess(t *testing.T) {
	store := newStubStore()
	rec := testRecorder(store, RecorderConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})

	ev := testEvent("203.0.113.1")
	seq, err := rec.Record(context.Background(), ev)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if seq != 1 || ev.Seq != 1 {
		t.Errorf("seq = %d, ev.Seq = %d, want 1", seq, ev.Seq)
	}
	if rec.QueueDepth() != 0 {
		t.Errorf("QueueDepth = %d, want 0", rec.QueueDepth())
	}
}

func TestRecorderRetriesTransientFailure(t *testing.T) {
	store := newStubStore()
	store.failNext = 2
	rec := testRecorder(store, RecorderConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})

	ev := testEvent("203.0.113.1")
	if _, err := rec.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record should succeed after retries: %v", err)
	}
	if store.saveCalls != 3 {
		t.Errorf("saveCalls = %d, want 3 (two failures, one success)", store.saveCalls)
	}
	if ev.Seq == 0 {
		t.Error("successful retry should stamp the sequence id")
	}
}

func TestRecorderDefersToOverflowQueue(t *testing.T) {
	store := newStubStore()
	store.failAll = true
	rec := testRecorder(store, RecorderConfig{MaxRetries: 1, RetryBackoff: time.Millisecond})

	ev := testEvent("203.0.113.1")
	_, err := rec.Record(context.Background(), ev)
	if err == nil {
		t.Fatal("Record should return an error when the write is deferred")
	}
	if ev.Seq != 0 {
		t.Errorf("deferred event must not carry a sequence id, got %d", ev.Seq)
	}
	if rec.QueueDepth() != 1 {
		t.Errorf("QueueDepth = %d, want 1", rec.QueueDepth())
	}
}

func TestRecorderFlushDrainsQueue(t *testing.T) {
	store := newStubStore()
	store.failAll = true
	rec := testRecorder(store, RecorderConfig{MaxRetries: 0, RetryBackoff: time.Millisecond})

	first := testEvent("203.0.113.1")
	second := testEvent("203.0.113.2")
	rec.Record(context.Background(), first)
	rec.Record(context.Background(), second)
	if rec.QueueDepth() != 2 {
		t.Fatalf("QueueDepth = %d, want 2", rec.QueueDepth())
	}

	store.mu.Lock()
	store.failAll = false
	store.mu.Unlock()

	rec.Flush(context.Background())

	if rec.QueueDepth() != 0 {
		t.Errorf("QueueDepth after flush = %d, want 0", rec.QueueDepth())
	}
	if first.Seq == 0 || second.Seq == 0 {
		t.Error("flushed events should carry sequence ids")
	}
	// Arrival order preserved through the queue.
	if first.Seq >= second.Seq {
		t.Errorf("flush order wrong: first.Seq=%d second.Seq=%d", first.Seq, second.Seq)
	}
}

func TestRecorderDropsOldestWhenQueueFull(t *testing.T) {
	store := newStubStore()
	store.failAll = true
	rec := testRecorder(store, RecorderConfig{MaxRetries: 0, RetryBackoff: time.Millisecond, QueueSize: 2})

	oldest := testEvent("203.0.113.1")
	kept1 := testEvent("203.0.113.2")
	kept2 := testEvent("203.0.113.3")
	rec.Record(context.Background(), oldest)
	rec.Record(context.Background(), kept1)
	rec.Record(context.Background(), kept2)

	if rec.QueueDepth() != 2 {
		t.Fatalf("QueueDepth = %d, want 2 (bounded)", rec.QueueDepth())
	}

	store.mu.Lock()
	store.failAll = false
	store.mu.Unlock()
	rec.Flush(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 2 {
		t.Fatalf("saved %d events, want 2", len(store.saved))
	}
	for _, ev := range store.saved {
		if ev.ID == oldest.ID {
			t.Error("oldest event should have been dropped, not flushed")
		}
	}
}

func TestRecorderUpdateAlertStatusSkipsUnrecorded(t *testing.T) {
	store := newStubStore()
	rec := testRecorder(store, RecorderConfig{})

	ev := testEvent("203.0.113.1")
	ev.AlertStatus = AlertSuppressed
	rec.UpdateAlertStatus(context.Background(), ev) // Seq == 0: no store write

	if len(store.statuses) != 0 {
		t.Error("status write for an unrecorded event should be skipped")
	}

	rec.Record(context.Background(), ev)
	ev.AlertStatus = AlertSent
	rec.UpdateAlertStatus(context.Background(), ev)
	if status, _ := store.statusOf(ev.Seq); status != AlertSent {
		t.Errorf("status = %v, want SENT", status)
	}
}
