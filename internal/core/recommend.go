package core

import "fmt"

// Recommender maps (attack label, destination port) to an ordered list of
// advisory actions. It is a pure, total lookup over a static table: every
// known attack label yields at least one recommendation, with generic
// per-label and per-port fallbacks when no exact guidance exists. The
// pipeline only recommends — it never mutates network state.
type Recommender struct{}

// NewRecommender returns the static recommendation table.
func NewRecommender() *Recommender {
	return &Recommender{}
}

var labelRecommendations = map[AttackLabel][]string{
	LabelDOS: {
		"Enable rate limiting on the targeted service",
		"Implement connection throttling",
		"Consider using a DDoS mitigation service",
		"Monitor bandwidth usage closely",
	},
	LabelProbe: {
		"Enable port scan detection",
		"Close unnecessary open ports",
		"Implement stricter firewall rules",
		"Monitor for further escalation attempts",
	},
	LabelR2L: {
		"Review authentication logs for failed attempts",
		"Implement multi-factor authentication",
		"Enable account lockout policies",
		"Audit user access permissions",
	},
	LabelU2R: {
		"Conduct immediate security audit",
		"Check for unauthorized privilege escalation",
		"Review system logs for suspicious activity",
		"Patch all system vulnerabilities immediately",
		"Consider isolating affected systems",
	},
	LabelNormal: {
		"No action required for normal traffic",
	},
}

var portRecommendations = map[int]string{
	21:   "Disable FTP, use SFTP instead",
	22:   "Use key-based SSH authentication only",
	23:   "Disable Telnet, use SSH instead",
	80:   "Redirect HTTP to HTTPS",
	443:  "Ensure TLS 1.2+ is enforced",
	3306: "Restrict MySQL to localhost only",
	3389: "Restrict RDP access to specific IPs only",
	5432: "Restrict PostgreSQL to localhost only",
}

// highRiskPorts should be closed when not required.
var highRiskPorts = map[int]struct{}{
	21: {}, 23: {}, 135: {}, 139: {}, 445: {}, 1433: {}, 3389: {},
}

// hardenPorts stay open in most deployments but warrant strict access control.
var hardenPorts = map[int]struct{}{
	22: {}, 80: {}, 443: {}, 3306: {}, 5432: {},
}

// Recommend returns the ordered advisory list for a label/port pair.
// Label-specific actions come first, then port guidance.
func (r *Recommender) Recommend(label AttackLabel, port int) []string {
	recs := make([]string, 0, 8)

	if labelRecs, ok := labelRecommendations[label]; ok {
		recs = append(recs, labelRecs...)
	} else {
		recs = append(recs, "Investigate anomalous traffic from this source")
	}

	if port > 0 {
		if _, ok := highRiskPorts[port]; ok {
			recs = append(recs, fmt.Sprintf("Port %d is high-risk — close it if not required", port))
		}
		if _, ok := hardenPorts[port]; ok {
			recs = append(recs, fmt.Sprintf("Harden access controls on port %d", port))
		}
		if specific, ok := portRecommendations[port]; ok {
			recs = append(recs, specific)
		}
	}

	return recs
}

// RecommendEvent adds contextual advisories (high confidence, VPN source)
// ahead of the static table entries.
func (r *Recommender) RecommendEvent(ev *AttackEvent) []string {
	recs := make([]string, 0, 10)

	if ev.Confidence > 0.8 {
		recs = append(recs, "High confidence detection — immediate review recommended")
	}
	if ev.SourceIP != "" {
		recs = append(recs, fmt.Sprintf("Block source IP %s at the firewall", ev.SourceIP))
		if ev.Intel.VPNProbability > 0.5 {
			recs = append(recs, "Source appears to be behind a VPN/proxy — consider geo-blocking")
		}
	}

	return append(recs, r.Recommend(ev.Label, ev.DestPort)...)
}
