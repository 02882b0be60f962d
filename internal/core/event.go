package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentryd-project/sentryd/internal/intel"
)

// AttackLabel is the traffic class predicted by the upstream classifier.
type AttackLabel int

const (
	LabelNormal AttackLabel = iota
	LabelDOS
	LabelProbe
	LabelR2L
	LabelU2R
)

// Labels lists every known attack label, NORMAL included.
func Labels() []AttackLabel {
	return []AttackLabel{LabelNormal, LabelDOS, LabelProbe, LabelR2L, LabelU2R}
}

func (l AttackLabel) String() string {
	switch l {
	case LabelNormal:
		return "NORMAL"
	case LabelDOS:
		return "DOS"
	case LabelProbe:
		return "PROBE"
	case LabelR2L:
		return "R2L"
	case LabelU2R:
		return "U2R"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets AttackLabel serve as a JSON map key and value.
func (l AttackLabel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *AttackLabel) UnmarshalText(data []byte) error {
	parsed, ok := ParseAttackLabel(string(data))
	if !ok {
		return fmt.Errorf("unknown attack label %q", string(data))
	}
	*l = parsed
	return nil
}

// ParseAttackLabel converts a label name to an AttackLabel.
func ParseAttackLabel(s string) (AttackLabel, bool) {
	switch s {
	case "NORMAL", "normal":
		return LabelNormal, true
	case "DOS", "dos":
		return LabelDOS, true
	case "PROBE", "probe":
		return LabelProbe, true
	case "R2L", "r2l":
		return LabelR2L, true
	case "U2R", "u2r":
		return LabelU2R, true
	default:
		return LabelNormal, false
	}
}

// Severity maps an attack class to operator-facing severity. U2R and DOS are
// critical, R2L high, PROBE medium.
func (l AttackLabel) Severity() Severity {
	switch l {
	case LabelU2R, LabelDOS:
		return SeverityCritical
	case LabelR2L:
		return SeverityHigh
	case LabelProbe:
		return SeverityMedium
	default:
		return SeverityInfo
	}
}

// Severity represents the severity level of a detection.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "INFO":
		*s = SeverityInfo
	case "LOW":
		*s = SeverityLow
	case "MEDIUM":
		*s = SeverityMedium
	case "HIGH":
		*s = SeverityHigh
	case "CRITICAL":
		*s = SeverityCritical
	default:
		*s = SeverityInfo
	}
	return nil
}

// AlertStatus is the terminal alerting outcome recorded on an AttackEvent.
type AlertStatus int

const (
	AlertNotSent AlertStatus = iota
	AlertSent
	AlertSuppressed
	AlertFailed
)

func (s AlertStatus) String() string {
	switch s {
	case AlertNotSent:
		return "NOT_SENT"
	case AlertSent:
		return "SENT"
	case AlertSuppressed:
		return "SUPPRESSED"
	case AlertFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s AlertStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AlertStatus) UnmarshalText(data []byte) error {
	parsed, ok := ParseAlertStatus(string(data))
	if !ok {
		return fmt.Errorf("unknown alert status %q", string(data))
	}
	*s = parsed
	return nil
}

// ParseAlertStatus converts a status name to an AlertStatus.
func ParseAlertStatus(s string) (AlertStatus, bool) {
	switch s {
	case "NOT_SENT", "not_sent":
		return AlertNotSent, true
	case "SENT", "sent":
		return AlertSent, true
	case "SUPPRESSED", "suppressed":
		return AlertSuppressed, true
	case "FAILED", "failed":
		return AlertFailed, true
	default:
		return AlertNotSent, false
	}
}

// ClassifiedRecord is one traffic observation as emitted by the upstream
// classifier: extracted features, the predicted label, and per-class
// confidence. Immutable once produced.
type ClassifiedRecord struct {
	Features      map[string]float64      `json:"features,omitempty"`
	Label         AttackLabel             `json:"label"`
	Confidence    map[AttackLabel]float64 `json:"confidence"`
	SourceIP      string                  `json:"source_ip"`
	DestinationIP string                  `json:"destination_ip,omitempty"`
	DestPort      int                     `json:"destination_port,omitempty"`
	Protocol      string                  `json:"protocol,omitempty"`
	Service       string                  `json:"service,omitempty"`
	Flags         string                  `json:"flags,omitempty"`
	SrcBytes      int64                   `json:"src_bytes,omitempty"`
	DstBytes      int64                   `json:"dst_bytes,omitempty"`
	Duration      float64                 `json:"duration,omitempty"`
	Timestamp     time.Time               `json:"timestamp"`
}

// LabelConfidence returns the classifier confidence for the predicted label.
func (r *ClassifiedRecord) LabelConfidence() float64 {
	return r.Confidence[r.Label]
}

// Marshal serializes the record to JSON.
func (r *ClassifiedRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalClassifiedRecord deserializes a ClassifiedRecord from JSON.
func UnmarshalClassifiedRecord(data []byte) (*ClassifiedRecord, error) {
	var rec ClassifiedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AttackEvent is the durable detection record. Fields are frozen at detection
// time; after the recorder assigns Seq the only mutable field is the alert
// status (plus its failure reason), written once when alerting resolves.
type AttackEvent struct {
	ID  string `json:"id"`
	Seq int64  `json:"seq,omitempty"`

	Timestamp     time.Time   `json:"timestamp"`
	SourceIP      string      `json:"source_ip"`
	DestinationIP string      `json:"destination_ip,omitempty"`
	DestPort      int         `json:"destination_port,omitempty"`
	Protocol      string      `json:"protocol,omitempty"`
	Service       string      `json:"service,omitempty"`
	Flags         string      `json:"flags,omitempty"`
	SrcBytes      int64       `json:"src_bytes"`
	DstBytes      int64       `json:"dst_bytes"`
	Duration      float64     `json:"duration"`
	Label         AttackLabel `json:"label"`
	Confidence    float64     `json:"confidence"`
	Severity      Severity    `json:"severity"`

	Intel           intel.Result `json:"intel"`
	Score           float64      `json:"threat_score"`
	Recommendations []string     `json:"recommendations,omitempty"`

	AlertStatus AlertStatus `json:"alert_status"`
	AlertError  string      `json:"alert_error,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
}

// NewAttackEvent freezes a classified record into a detection event.
func NewAttackEvent(rec *ClassifiedRecord) *AttackEvent {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &AttackEvent{
		ID:            uuid.New().String(),
		Timestamp:     ts,
		SourceIP:      rec.SourceIP,
		DestinationIP: rec.DestinationIP,
		DestPort:      rec.DestPort,
		Protocol:      rec.Protocol,
		Service:       rec.Service,
		Flags:         rec.Flags,
		SrcBytes:      rec.SrcBytes,
		DstBytes:      rec.DstBytes,
		Duration:      rec.Duration,
		Label:         rec.Label,
		Confidence:    rec.LabelConfidence(),
		Severity:      rec.Label.Severity(),
		AlertStatus:   AlertNotSent,
		DetectedAt:    time.Now().UTC(),
	}
}

// Marshal serializes the event to JSON.
func (e *AttackEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalAttackEvent deserializes an AttackEvent from JSON.
func UnmarshalAttackEvent(data []byte) (*AttackEvent, error) {
	var ev AttackEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Classifier is the upstream model boundary: given a feature vector it
// returns the predicted label and per-class confidence. Implementations are
// expected to be synchronous and fast.
type Classifier interface {
	Predict(features map[string]float64) (AttackLabel, map[AttackLabel]float64, error)
}
