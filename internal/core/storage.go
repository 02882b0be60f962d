package core

import (
	"context"
	"time"
)

// EventStore is the durable storage boundary. Implementations must make
// SaveEvent atomic with respect to its aggregate updates: either the event
// row and both rolling counters land, or none do and the recorder retries
// the event as a unit.
type EventStore interface {
	// SaveEvent appends the event and updates the per-source-IP and
	// per-destination-port aggregates, returning the assigned sequence id.
	SaveEvent(ctx context.Context, ev *AttackEvent) (int64, error)

	// UpdateAlertStatus performs the single terminal alert-status write.
	UpdateAlertStatus(ctx context.Context, seq int64, status AlertStatus, reason string) error

	// RecentEvents returns events newer than since, newest first.
	RecentEvents(ctx context.Context, since time.Time, limit int) ([]*AttackEvent, error)

	// TopSources returns the most active source IPs since the given time.
	TopSources(ctx context.Context, since time.Time, limit int) ([]SourceAggregate, error)

	// Distribution returns event counts by attack label since the given time.
	Distribution(ctx context.Context, since time.Time) (map[string]int64, error)

	// FailedAlerts returns events whose delivery failed, for the retry sweep.
	FailedAlerts(ctx context.Context, limit int) ([]*AttackEvent, error)

	Close() error
}

// SourceAggregate is the rolling per-source-IP summary kept by the store.
type SourceAggregate struct {
	SourceIP   string           `json:"source_ip"`
	Events     int64            `json:"events"`
	ByLabel    map[string]int64 `json:"by_label"`
	BytesSent  int64            `json:"bytes_sent"`
	MaxScore   float64          `json:"max_score"`
	Country    string           `json:"country,omitempty"`
	FirstSeen  time.Time        `json:"first_seen"`
	LastSeen   time.Time        `json:"last_seen"`
}

// PortAggregate is the rolling per-destination-port summary kept by the store.
type PortAggregate struct {
	Port     int              `json:"port"`
	Events   int64            `json:"events"`
	ByLabel  map[string]int64 `json:"by_label"`
	LastSeen time.Time        `json:"last_seen"`
}
