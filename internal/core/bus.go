package core

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// EventBus wraps NATS JetStream: classified records come in on
// ids.records.>, detected attacks and alert outcomes go out on
// ids.attacks.> and ids.alerts.>.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription

	metrics *BusMetrics
}

// BusMetrics tracks event bus counters.
type BusMetrics struct {
	mu               sync.Mutex `json:"-"`
	RecordsReceived  int64      `json:"records_received"`
	AttacksPublished int64      `json:"attacks_published"`
	AlertsPublished  int64      `json:"alerts_published"`
	PublishFailed    int64      `json:"publish_failed"`
	MessagesAcked    int64      `json:"messages_acked"`
	MessagesNaked    int64      `json:"messages_naked"`
}

// NewEventBus connects to NATS, starting an embedded server first when
// cfg.Embedded is set, and ensures the three streams exist.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger:  logger.With().Str("component", "event_bus").Logger(),
		subs:    make([]*nats.Subscription, 0),
		metrics: &BusMetrics{},
	}

	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}

		ns.Start()

		if !ns.ReadyForConnections(10 * time.Second) {
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		bus.logger.Info().Int("port", cfg.Port).Msg("embedded NATS server started")
	}

	url := cfg.URL
	if cfg.Embedded {
		url = fmt.Sprintf("nats://127.0.0.1:%d", cfg.Port)
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	// AddStream returns the existing stream when the config matches; after
	// a config change (e.g. a version upgrade) fall back to UpdateStream.
	streams := []*nats.StreamConfig{
		{
			Name:      "IDS_RECORDS",
			Subjects:  []string{"ids.records.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour, // records are transient input
			MaxBytes:  1024 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
		{
			Name:      "IDS_ATTACKS",
			Subjects:  []string{"ids.attacks.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour * 30,
			MaxBytes:  1024 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
		{
			Name:      "IDS_ALERTS",
			Subjects:  []string{"ids.alerts.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour * 30,
			MaxBytes:  256 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
	}
	for _, sc := range streams {
		if _, err := js.AddStream(sc); err != nil {
			if _, updateErr := js.UpdateStream(sc); updateErr != nil {
				return nil, fmt.Errorf("creating/updating %s stream: %w (original: %v)", sc.Name, updateErr, err)
			}
		}
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// PublishRecord publishes a classified record for the detection pipeline.
// Producers (classifier sidecars, replay tools) use this entry point.
func (b *EventBus) PublishRecord(rec *ClassifiedRecord) error {
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	subject := fmt.Sprintf("ids.records.%s", rec.Label.String())
	if _, err := b.js.Publish(subject, data); err != nil {
		b.countPublishFailure()
		return fmt.Errorf("publishing record to %s: %w", subject, err)
	}
	return nil
}

// PublishAttack publishes a detected attack event.
func (b *EventBus) PublishAttack(ev *AttackEvent) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling attack event: %w", err)
	}

	subject := fmt.Sprintf("ids.attacks.%s.%s", ev.Label.String(), ev.Severity.String())
	if _, err := b.js.Publish(subject, data); err != nil {
		b.countPublishFailure()
		return fmt.Errorf("publishing attack event to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.AttacksPublished++
	b.metrics.mu.Unlock()

	b.logger.Debug().
		Str("event_id", ev.ID).
		Str("subject", subject).
		Float64("score", ev.Score).
		Msg("attack event published")

	return nil
}

// PublishAlertOutcome publishes the resolved alert status for an event so
// downstream consumers can audit deliveries and suppressions.
func (b *EventBus) PublishAlertOutcome(ev *AttackEvent) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling alert outcome: %w", err)
	}

	subject := fmt.Sprintf("ids.alerts.%s", ev.AlertStatus.String())
	if _, err := b.js.Publish(subject, data); err != nil {
		b.countPublishFailure()
		return fmt.Errorf("publishing alert outcome to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.AlertsPublished++
	b.metrics.mu.Unlock()

	return nil
}

// Subscribe creates a durable subscription to a subject pattern.
func (b *EventBus) Subscribe(subject, durableName string, handler func(msg *nats.Msg)) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durableName != "" {
		opts = append(opts, nats.Durable(durableName))
	}
	sub, err := b.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("subject", subject).Str("durable", durableName).Msg("subscribed")
	return nil
}

// SubscribeRecords consumes classified records with a durable consumer.
// Malformed payloads are nacked for redelivery visibility and skipped.
func (b *EventBus) SubscribeRecords(handler func(rec *ClassifiedRecord)) error {
	return b.Subscribe("ids.records.>", "sentryd-detector", func(msg *nats.Msg) {
		rec, err := UnmarshalClassifiedRecord(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to unmarshal classified record")
			_ = msg.Nak()
			b.metrics.mu.Lock()
			b.metrics.MessagesNaked++
			b.metrics.mu.Unlock()
			return
		}
		b.metrics.mu.Lock()
		b.metrics.RecordsReceived++
		b.metrics.mu.Unlock()
		handler(rec)
		_ = msg.Ack()
		b.metrics.mu.Lock()
		b.metrics.MessagesAcked++
		b.metrics.mu.Unlock()
	})
}

// Close shuts down the event bus.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}

	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.logger.Info().Msg("embedded NATS server stopped")
	}

	return nil
}

// IsConnected returns true if the NATS connection is active.
func (b *EventBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

func (b *EventBus) countPublishFailure() {
	b.metrics.mu.Lock()
	b.metrics.PublishFailed++
	b.metrics.mu.Unlock()
}

// GetMetrics returns a snapshot of bus counters.
func (b *EventBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"records_received":  b.metrics.RecordsReceived,
		"attacks_published": b.metrics.AttacksPublished,
		"alerts_published":  b.metrics.AlertsPublished,
		"publish_failed":    b.metrics.PublishFailed,
		"messages_acked":    b.metrics.MessagesAcked,
		"messages_naked":    b.metrics.MessagesNaked,
	}
}
