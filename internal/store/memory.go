// Package store provides the durable event store implementations: a bounded
// in-memory store for development and tests, and PostgreSQL for production.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentryd-project/sentryd/internal/core"
)

// MemoryStore is a bounded in-memory EventStore. Events are kept in arrival
// order up to a capacity; the aggregates roll forward independently of event
// eviction so the summaries survive longer than the raw rows.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []*core.AttackEvent
	bySeq   map[int64]*core.AttackEvent
	sources map[string]*core.SourceAggregate
	ports   map[int]*core.PortAggregate
	nextSeq int64
	cap     int
	logger  zerolog.Logger
}

// NewMemoryStore creates a memory store holding at most capacity events.
func NewMemoryStore(capacity int, logger zerolog.Logger) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{
		events:  make([]*core.AttackEvent, 0, 64),
		bySeq:   make(map[int64]*core.AttackEvent),
		sources: make(map[string]*core.SourceAggregate),
		ports:   make(map[int]*core.PortAggregate),
		nextSeq: 1,
		cap:     capacity,
		logger:  logger.With().Str("component", "memory_store").Logger(),
	}
}

// SaveEvent appends the event and updates both aggregates under one lock, so
// a reader never observes the event without its aggregate contribution.
func (s *MemoryStore) SaveEvent(ctx context.Context, ev *core.AttackEvent) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *ev
	stored.Seq = s.nextSeq
	s.nextSeq++

	s.events = append(s.events, &stored)
	s.bySeq[stored.Seq] = &stored
	if len(s.events) > s.cap {
		evicted := s.events[0]
		s.events = s.events[1:]
		delete(s.bySeq, evicted.Seq)
	}

	label := stored.Label.String()

	agg, ok := s.sources[stored.SourceIP]
	if !ok {
		agg = &core.SourceAggregate{
			SourceIP:  stored.SourceIP,
			ByLabel:   make(map[string]int64),
			FirstSeen: stored.Timestamp,
		}
		s.sources[stored.SourceIP] = agg
	}
	agg.Events++
	agg.ByLabel[label]++
	agg.BytesSent += stored.SrcBytes
	if stored.Score > agg.MaxScore {
		agg.MaxScore = stored.Score
	}
	if !stored.Intel.Unknown && stored.Intel.Country != "" {
		agg.Country = stored.Intel.Country
	}
	if stored.Timestamp.Before(agg.FirstSeen) {
		agg.FirstSeen = stored.Timestamp
	}
	if stored.Timestamp.After(agg.LastSeen) {
		agg.LastSeen = stored.Timestamp
	}

	pagg, ok := s.ports[stored.DestPort]
	if !ok {
		pagg = &core.PortAggregate{
			Port:    stored.DestPort,
			ByLabel: make(map[string]int64),
		}
		s.ports[stored.DestPort] = pagg
	}
	pagg.Events++
	pagg.ByLabel[label]++
	if stored.Timestamp.After(pagg.LastSeen) {
		pagg.LastSeen = stored.Timestamp
	}

	return stored.Seq, nil
}

// UpdateAlertStatus writes the terminal alert status for a stored event.
func (s *MemoryStore) UpdateAlertStatus(ctx context.Context, seq int64, status core.AlertStatus, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.bySeq[seq]
	if !ok {
		// Evicted rows are gone; the status write is a no-op, not an error.
		return nil
	}
	ev.AlertStatus = status
	ev.AlertError = reason
	return nil
}

// RecentEvents returns events newer than since, newest first.
func (s *MemoryStore) RecentEvents(ctx context.Context, since time.Time, limit int) ([]*core.AttackEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.AttackEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		ev := s.events[i]
		if ev.Timestamp.Before(since) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

// TopSources returns the busiest source IPs, most events first.
func (s *MemoryStore) TopSources(ctx context.Context, since time.Time, limit int) ([]core.SourceAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.SourceAggregate, 0, len(s.sources))
	for _, agg := range s.sources {
		if agg.LastSeen.Before(since) {
			continue
		}
		cp := *agg
		cp.ByLabel = make(map[string]int64, len(agg.ByLabel))
		for k, v := range agg.ByLabel {
			cp.ByLabel[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Events != out[j].Events {
			return out[i].Events > out[j].Events
		}
		return out[i].SourceIP < out[j].SourceIP
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Distribution returns event counts by attack label since the given time.
func (s *MemoryStore) Distribution(ctx context.Context, since time.Time) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dist := make(map[string]int64)
	for _, ev := range s.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		dist[ev.Label.String()]++
	}
	return dist, nil
}

// FailedAlerts returns events whose delivery failed, oldest first.
func (s *MemoryStore) FailedAlerts(ctx context.Context, limit int) ([]*core.AttackEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.AttackEvent, 0)
	for _, ev := range s.events {
		if ev.AlertStatus != core.AlertFailed {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// TopPorts returns the most targeted destination ports, most events first.
func (s *MemoryStore) TopPorts(ctx context.Context, since time.Time, limit int) ([]core.PortAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.PortAggregate, 0, len(s.ports))
	for _, agg := range s.ports {
		if agg.LastSeen.Before(since) {
			continue
		}
		cp := *agg
		cp.ByLabel = make(map[string]int64, len(agg.ByLabel))
		for k, v := range agg.ByLabel {
			cp.ByLabel[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Events != out[j].Events {
			return out[i].Events > out[j].Events
		}
		return out[i].Port < out[j].Port
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of retained events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.bySeq = nil
	s.sources = nil
	s.ports = nil
	return nil
}
