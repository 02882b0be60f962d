package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/sentryd-project/sentryd/internal/core"
)

// PostgresStore persists attack events and their rolling aggregates in
// PostgreSQL. SaveEvent runs the event insert and both aggregate upserts in
// one transaction so the recorder can retry the whole unit on failure.
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS attack_events (
	seq             BIGSERIAL PRIMARY KEY,
	event_id        UUID NOT NULL UNIQUE,
	observed_at     TIMESTAMPTZ NOT NULL,
	detected_at     TIMESTAMPTZ NOT NULL,
	source_ip       TEXT NOT NULL,
	destination_ip  TEXT NOT NULL DEFAULT '',
	dest_port       INTEGER NOT NULL DEFAULT 0,
	protocol        TEXT NOT NULL DEFAULT '',
	service         TEXT NOT NULL DEFAULT '',
	flags           TEXT NOT NULL DEFAULT '',
	src_bytes       BIGINT NOT NULL DEFAULT 0,
	dst_bytes       BIGINT NOT NULL DEFAULT 0,
	duration        DOUBLE PRECISION NOT NULL DEFAULT 0,
	label           TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	severity        TEXT NOT NULL,
	threat_score    DOUBLE PRECISION NOT NULL,
	intel           JSONB NOT NULL DEFAULT '{}',
	recommendations JSONB NOT NULL DEFAULT '[]',
	alert_status    TEXT NOT NULL DEFAULT 'NOT_SENT',
	alert_error     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_attack_events_observed ON attack_events (observed_at DESC);
CREATE INDEX IF NOT EXISTS idx_attack_events_source ON attack_events (source_ip);
CREATE INDEX IF NOT EXISTS idx_attack_events_alert ON attack_events (alert_status);

CREATE TABLE IF NOT EXISTS source_aggregates (
	source_ip  TEXT PRIMARY KEY,
	events     BIGINT NOT NULL DEFAULT 0,
	by_label   JSONB NOT NULL DEFAULT '{}',
	bytes_sent BIGINT NOT NULL DEFAULT 0,
	max_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	country    TEXT NOT NULL DEFAULT '',
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS port_aggregates (
	dest_port INTEGER PRIMARY KEY,
	events    BIGINT NOT NULL DEFAULT 0,
	by_label  JSONB NOT NULL DEFAULT '{}',
	last_seen TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore opens the connection, verifies it, and ensures the schema.
func NewPostgresStore(cfg core.PostgresConfig, logger zerolog.Logger) (*PostgresStore, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(pgSchema); err != nil {
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		logger: logger.With().Str("component", "postgres_store").Logger(),
	}
	s.logger.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("connected to PostgreSQL")
	return s, nil
}

// SaveEvent inserts the event row and upserts both aggregates transactionally.
func (s *PostgresStore) SaveEvent(ctx context.Context, ev *core.AttackEvent) (int64, error) {
	intelJSON, err := json.Marshal(ev.Intel)
	if err != nil {
		return 0, fmt.Errorf("marshaling intel: %w", err)
	}
	recsJSON, err := json.Marshal(ev.Recommendations)
	if err != nil {
		return 0, fmt.Errorf("marshaling recommendations: %w", err)
	}
	if ev.Recommendations == nil {
		recsJSON = []byte("[]")
	}
	labelJSON, err := json.Marshal(map[string]int64{ev.Label.String(): 1})
	if err != nil {
		return 0, fmt.Errorf("marshaling label delta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO attack_events (
			event_id, observed_at, detected_at, source_ip, destination_ip,
			dest_port, protocol, service, flags, src_bytes, dst_bytes,
			duration, label, confidence, severity, threat_score, intel,
			recommendations, alert_status, alert_error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		RETURNING seq`,
		ev.ID, ev.Timestamp, ev.DetectedAt, ev.SourceIP, ev.DestinationIP,
		ev.DestPort, ev.Protocol, ev.Service, ev.Flags, ev.SrcBytes, ev.DstBytes,
		ev.Duration, ev.Label.String(), ev.Confidence, ev.Severity.String(),
		ev.Score, intelJSON, recsJSON, ev.AlertStatus.String(), ev.AlertError,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	country := ""
	if !ev.Intel.Unknown {
		country = ev.Intel.Country
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO source_aggregates (source_ip, events, by_label, bytes_sent, max_score, country, first_seen, last_seen)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (source_ip) DO UPDATE SET
			events     = source_aggregates.events + 1,
			by_label   = source_aggregates.by_label ||
				jsonb_build_object($7::text, COALESCE((source_aggregates.by_label->>$7)::bigint, 0) + 1),
			bytes_sent = source_aggregates.bytes_sent + EXCLUDED.bytes_sent,
			max_score  = GREATEST(source_aggregates.max_score, EXCLUDED.max_score),
			country    = CASE WHEN EXCLUDED.country <> '' THEN EXCLUDED.country ELSE source_aggregates.country END,
			first_seen = LEAST(source_aggregates.first_seen, EXCLUDED.first_seen),
			last_seen  = GREATEST(source_aggregates.last_seen, EXCLUDED.last_seen)`,
		ev.SourceIP, labelJSON, ev.SrcBytes, ev.Score, country, ev.Timestamp, ev.Label.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("upserting source aggregate: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO port_aggregates (dest_port, events, by_label, last_seen)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (dest_port) DO UPDATE SET
			events    = port_aggregates.events + 1,
			by_label  = port_aggregates.by_label ||
				jsonb_build_object($4::text, COALESCE((port_aggregates.by_label->>$4)::bigint, 0) + 1),
			last_seen = GREATEST(port_aggregates.last_seen, EXCLUDED.last_seen)`,
		ev.DestPort, labelJSON, ev.Timestamp, ev.Label.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("upserting port aggregate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing event: %w", err)
	}
	return seq, nil
}

// UpdateAlertStatus writes the terminal alert status for a stored event.
func (s *PostgresStore) UpdateAlertStatus(ctx context.Context, seq int64, status core.AlertStatus, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE attack_events SET alert_status = $1, alert_error = $2 WHERE seq = $3`,
		status.String(), reason, seq,
	)
	if err != nil {
		return fmt.Errorf("updating alert status: %w", err)
	}
	return nil
}

// RecentEvents returns events newer than since, newest first.
func (s *PostgresStore) RecentEvents(ctx context.Context, since time.Time, limit int) ([]*core.AttackEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_id, observed_at, detected_at, source_ip, destination_ip,
		       dest_port, protocol, service, flags, src_bytes, dst_bytes, duration,
		       label, confidence, severity, threat_score, intel, recommendations,
		       alert_status, alert_error
		FROM attack_events
		WHERE observed_at >= $1
		ORDER BY observed_at DESC, seq DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// FailedAlerts returns events whose delivery failed, oldest first.
func (s *PostgresStore) FailedAlerts(ctx context.Context, limit int) ([]*core.AttackEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_id, observed_at, detected_at, source_ip, destination_ip,
		       dest_port, protocol, service, flags, src_bytes, dst_bytes, duration,
		       label, confidence, severity, threat_score, intel, recommendations,
		       alert_status, alert_error
		FROM attack_events
		WHERE alert_status = 'FAILED'
		ORDER BY seq ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying failed alerts: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*core.AttackEvent, error) {
	var events []*core.AttackEvent
	for rows.Next() {
		var (
			ev                  core.AttackEvent
			label, severity     string
			status              string
			intelJSON, recsJSON []byte
		)
		err := rows.Scan(&ev.Seq, &ev.ID, &ev.Timestamp, &ev.DetectedAt,
			&ev.SourceIP, &ev.DestinationIP, &ev.DestPort, &ev.Protocol,
			&ev.Service, &ev.Flags, &ev.SrcBytes, &ev.DstBytes, &ev.Duration,
			&label, &ev.Confidence, &severity, &ev.Score, &intelJSON, &recsJSON,
			&status, &ev.AlertError)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		parsedLabel, ok := core.ParseAttackLabel(label)
		if !ok {
			return nil, fmt.Errorf("unknown attack label %q", label)
		}
		ev.Label = parsedLabel
		ev.Severity = parsedLabel.Severity()
		if st, ok := core.ParseAlertStatus(status); ok {
			ev.AlertStatus = st
		}
		if err := json.Unmarshal(intelJSON, &ev.Intel); err != nil {
			return nil, fmt.Errorf("unmarshaling intel: %w", err)
		}
		if err := json.Unmarshal(recsJSON, &ev.Recommendations); err != nil {
			return nil, fmt.Errorf("unmarshaling recommendations: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// TopSources returns the busiest source IPs, most events first.
func (s *PostgresStore) TopSources(ctx context.Context, since time.Time, limit int) ([]core.SourceAggregate, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_ip, events, by_label, bytes_sent, max_score, country, first_seen, last_seen
		FROM source_aggregates
		WHERE last_seen >= $1
		ORDER BY events DESC, source_ip ASC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top sources: %w", err)
	}
	defer rows.Close()

	var out []core.SourceAggregate
	for rows.Next() {
		var agg core.SourceAggregate
		var byLabel []byte
		err := rows.Scan(&agg.SourceIP, &agg.Events, &byLabel, &agg.BytesSent,
			&agg.MaxScore, &agg.Country, &agg.FirstSeen, &agg.LastSeen)
		if err != nil {
			return nil, fmt.Errorf("scanning source aggregate: %w", err)
		}
		if err := json.Unmarshal(byLabel, &agg.ByLabel); err != nil {
			return nil, fmt.Errorf("unmarshaling label counts: %w", err)
		}
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating source aggregates: %w", err)
	}
	return out, nil
}

// Distribution returns event counts by attack label since the given time.
func (s *PostgresStore) Distribution(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, COUNT(*)
		FROM attack_events
		WHERE observed_at >= $1
		GROUP BY label`, since)
	if err != nil {
		return nil, fmt.Errorf("querying distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int64)
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("scanning distribution row: %w", err)
		}
		dist[label] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating distribution: %w", err)
	}
	return dist, nil
}

// Health checks if the database is accessible.
func (s *PostgresStore) Health() error {
	return s.db.Ping()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
