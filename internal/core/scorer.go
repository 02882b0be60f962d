package core

import (
	"github.com/sentryd-project/sentryd/internal/intel"
)

// ThreatScorer combines classifier confidence, per-class severity, and
// intelligence signals into a composite 0-100 score.
//
// Scoring is a pure function of (record fields, intel): identical inputs
// always yield an identical score. A failed ("unknown") lookup contributes
// zero bonus — no signal is neutral, never safe and never a penalty.
type ThreatScorer struct {
	cfg       ScoringConfig
	allowedCC map[string]struct{}
}

// NewThreatScorer creates a scorer from the configured weight tables.
func NewThreatScorer(cfg ScoringConfig) *ThreatScorer {
	allowed := make(map[string]struct{}, len(cfg.AllowedCountries))
	for _, cc := range cfg.AllowedCountries {
		allowed[cc] = struct{}{}
	}
	return &ThreatScorer{cfg: cfg, allowedCC: allowed}
}

// Score computes the threat score for a detection.
//
// base      = confidence*confidenceWeight + severityWeight[label]*severityWeight
// vpnBonus  = vpnProbability * vpnWeight         (capped by the weight itself)
// geoBonus  = geoWeight when the source country is outside the allow-list
// score     = clamp((base + vpnBonus + geoBonus) * 100, 0, 100)
func (s *ThreatScorer) Score(label AttackLabel, confidence float64, res *intel.Result) float64 {
	base := confidence*s.cfg.ConfidenceWeight +
		s.cfg.SeverityWeightFor(label)*s.cfg.SeverityWeight

	total := base + s.vpnBonus(res) + s.geoBonus(res)

	score := total * 100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ScoreEvent scores from the frozen event fields so that rescoring an event
// later cannot drift from what was persisted.
func (s *ThreatScorer) ScoreEvent(ev *AttackEvent) float64 {
	return s.Score(ev.Label, ev.Confidence, &ev.Intel)
}

func (s *ThreatScorer) vpnBonus(res *intel.Result) float64 {
	if res == nil || res.Unknown {
		return 0
	}
	return res.VPNProbability * s.cfg.VPNWeight
}

func (s *ThreatScorer) geoBonus(res *intel.Result) float64 {
	if res == nil || res.Unknown || len(s.allowedCC) == 0 {
		return 0
	}
	if res.CountryCode == "" {
		return 0
	}
	if _, ok := s.allowedCC[res.CountryCode]; ok {
		return 0
	}
	return s.cfg.GeoWeight
}
