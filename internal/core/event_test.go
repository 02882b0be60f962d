package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseAttackLabel(t *testing.T) {
	tests := []struct {
		in    string
		want  AttackLabel
		valid bool
	}{
		{"DOS", LabelDOS, true},
		{"dos", LabelDOS, true},
		{"PROBE", LabelProbe, true},
		{"R2L", LabelR2L, true},
		{"U2R", LabelU2R, true},
		{"NORMAL", LabelNormal, true},
		{"ddos", LabelNormal, false},
		{"", LabelNormal, false},
	}
	for _, tt := range tests {
		got, ok := ParseAttackLabel(tt.in)
		if ok != tt.valid {
			t.Errorf("ParseAttackLabel(%q) valid = %v, want %v", tt.in, ok, tt.valid)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseAttackLabel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLabelSeverityMapping(t *testing.T) {
	tests := []struct {
		label AttackLabel
		want  Severity
	}{
		{LabelU2R, SeverityCritical},
		{LabelDOS, SeverityCritical},
		{LabelR2L, SeverityHigh},
		{LabelProbe, SeverityMedium},
		{LabelNormal, SeverityInfo},
	}
	for _, tt := range tests {
		if got := tt.label.Severity(); got != tt.want {
			t.Errorf("%v.Severity() = %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestNewAttackEventFreezesRecord(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &ClassifiedRecord{
		Label: LabelDOS,
		Confidence: map[AttackLabel]float64{
			LabelDOS:    0.92,
			LabelNormal: 0.08,
		},
		SourceIP:  "203.0.113.7",
		DestPort:  80,
		Protocol:  "tcp",
		SrcBytes:  50000,
		Timestamp: ts,
	}

	ev := NewAttackEvent(rec)

	if ev.ID == "" {
		t.Fatal("event ID not assigned")
	}
	if ev.Label != LabelDOS {
		t.Errorf("Label = %v, want DOS", ev.Label)
	}
	if ev.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92 (predicted label's confidence)", ev.Confidence)
	}
	if ev.Severity != SeverityCritical {
		t.Errorf("Severity = %v, want CRITICAL", ev.Severity)
	}
	if !ev.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, ts)
	}
	if ev.AlertStatus != AlertNotSent {
		t.Errorf("AlertStatus = %v, want NOT_SENT", ev.AlertStatus)
	}
	if ev.Seq != 0 {
		t.Errorf("Seq = %d, want 0 before recording", ev.Seq)
	}
}

func TestNewAttackEventDefaultsTimestamp(t *testing.T) {
	ev := NewAttackEvent(&ClassifiedRecord{
		Label:      LabelProbe,
		Confidence: map[AttackLabel]float64{LabelProbe: 0.8},
		SourceIP:   "198.51.100.1",
	})
	if ev.Timestamp.IsZero() {
		t.Error("zero record timestamp should be replaced with detection time")
	}
}

func TestAttackEventRoundTrip(t *testing.T) {
	rec := &ClassifiedRecord{
		Label:      LabelR2L,
		Confidence: map[AttackLabel]float64{LabelR2L: 0.85},
		SourceIP:   "192.0.2.10",
		DestPort:   22,
		Timestamp:  time.Now().UTC(),
	}
	ev := NewAttackEvent(rec)
	ev.Score = 77.5
	ev.Recommendations = []string{"Use key-based SSH authentication only"}
	ev.AlertStatus = AlertSuppressed
	ev.AlertError = "rate limited"

	data, err := ev.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalAttackEvent(data)
	if err != nil {
		t.Fatalf("UnmarshalAttackEvent: %v", err)
	}

	if got.ID != ev.ID || got.Label != ev.Label || got.Score != ev.Score {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.AlertStatus != AlertSuppressed || got.AlertError != "rate limited" {
		t.Errorf("alert status not preserved: %v %q", got.AlertStatus, got.AlertError)
	}
}

func TestConfidenceMapJSONKeys(t *testing.T) {
	rec := &ClassifiedRecord{
		Label: LabelDOS,
		Confidence: map[AttackLabel]float64{
			LabelDOS:    0.9,
			LabelProbe:  0.05,
			LabelNormal: 0.05,
		},
		SourceIP:  "203.0.113.9",
		Timestamp: time.Now().UTC(),
	}
	data, err := rec.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw struct {
		Confidence map[string]float64 `json:"confidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal raw: %v", err)
	}
	if _, ok := raw.Confidence["DOS"]; !ok {
		t.Errorf("confidence map should use label names as keys, got %v", raw.Confidence)
	}

	back, err := UnmarshalClassifiedRecord(data)
	if err != nil {
		t.Fatalf("UnmarshalClassifiedRecord: %v", err)
	}
	if back.LabelConfidence() != 0.9 {
		t.Errorf("LabelConfidence = %v, want 0.9", back.LabelConfidence())
	}
}
