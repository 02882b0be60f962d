package core

import (
	"strings"
	"testing"

	"github.com/sentryd-project/sentryd/internal/intel"
)

func TestRecommendEveryLabelHasGuidance(t *testing.T) {
	r := NewRecommender()
	for _, label := range Labels() {
		recs := r.Recommend(label, 0)
		if len(recs) == 0 {
			t.Errorf("no recommendations for %v", label)
		}
	}
}

func TestRecommendPortGuidance(t *testing.T) {
	r := NewRecommender()

	recs := r.Recommend(LabelProbe, 22)
	joined := strings.Join(recs, "\n")
	if !strings.Contains(joined, "SSH") {
		t.Errorf("port 22 should include SSH guidance, got:\n%s", joined)
	}
	if !strings.Contains(joined, "Harden access controls on port 22") {
		t.Errorf("port 22 should be flagged for hardening, got:\n%s", joined)
	}

	recs = r.Recommend(LabelR2L, 23)
	joined = strings.Join(recs, "\n")
	if !strings.Contains(joined, "high-risk") {
		t.Errorf("port 23 should be flagged high-risk, got:\n%s", joined)
	}
	if !strings.Contains(joined, "Telnet") {
		t.Errorf("port 23 should mention Telnet, got:\n%s", joined)
	}
}

func TestRecommendLabelActionsComeFirst(t *testing.T) {
	r := NewRecommender()
	recs := r.Recommend(LabelDOS, 80)
	if len(recs) < 2 {
		t.Fatalf("expected label and port guidance, got %v", recs)
	}
	if !strings.Contains(recs[0], "rate limiting") {
		t.Errorf("first recommendation should be the DOS action, got %q", recs[0])
	}
}

func TestRecommendUnknownPort(t *testing.T) {
	r := NewRecommender()
	recs := r.Recommend(LabelProbe, 31337)
	for _, rec := range recs {
		if strings.Contains(rec, "31337") {
			t.Errorf("unknown port should produce no port-specific guidance, got %q", rec)
		}
	}
}

func TestRecommendEventContextualAdvisories(t *testing.T) {
	r := NewRecommender()
	ev := &AttackEvent{
		Label:      LabelDOS,
		Confidence: 0.95,
		SourceIP:   "203.0.113.7",
		DestPort:   80,
		Intel:      intel.Result{IP: "203.0.113.7", VPNProbability: 0.8},
	}

	recs := r.RecommendEvent(ev)
	joined := strings.Join(recs, "\n")
	if !strings.Contains(joined, "High confidence") {
		t.Error("high-confidence advisory missing")
	}
	if !strings.Contains(joined, "Block source IP 203.0.113.7") {
		t.Error("block-IP advisory missing")
	}
	if !strings.Contains(joined, "VPN/proxy") {
		t.Error("VPN advisory missing")
	}

	// Low confidence, no VPN: contextual advisories drop out.
	ev.Confidence = 0.7
	ev.Intel.VPNProbability = 0.2
	recs = r.RecommendEvent(ev)
	joined = strings.Join(recs, "\n")
	if strings.Contains(joined, "High confidence") {
		t.Error("high-confidence advisory should require confidence > 0.8")
	}
	if strings.Contains(joined, "VPN/proxy") {
		t.Error("VPN advisory should require probability > 0.5")
	}
}
