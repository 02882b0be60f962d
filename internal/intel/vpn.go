package intel

import "strings"

// VPN/proxy detection is heuristic: hosting and datacenter organisations are
// far more likely to originate proxied traffic than residential ISPs. Each
// keyword hit on the org/ISP name adds 0.3, a known cloud ASN adds 0.4, and
// the total is clamped to [0,1].

var vpnKeywords = []string{
	"vpn", "proxy", "hosting", "datacenter", "data center", "cloud",
	"amazon", "google", "microsoft", "digital ocean", "digitalocean",
	"linode", "ovh", "hetzner",
}

// Cloud provider ASNs: AWS, Google, Microsoft, DigitalOcean.
var cloudASNPrefixes = []string{"AS16509", "AS15169", "AS8075", "AS14061"}

const vpnThreshold = 0.5

// ScoreVPN derives a VPN/proxy probability from provider signals. When the
// provider gives no usable signal the probability is 0.0, not unknown.
func ScoreVPN(r *Result) (probability float64, isVPN bool, indicators []string) {
	if r.Unknown {
		return 0, false, nil
	}

	org := strings.ToLower(r.Org)
	isp := strings.ToLower(r.ISP)
	asn := strings.ToUpper(r.ASN)

	var score float64
	for _, kw := range vpnKeywords {
		if strings.Contains(org, kw) || strings.Contains(isp, kw) {
			indicators = append(indicators, "org keyword: "+kw)
			score += 0.3
		}
	}
	for _, prefix := range cloudASNPrefixes {
		if strings.HasPrefix(asn, prefix) {
			indicators = append(indicators, "cloud provider ASN: "+asn)
			score += 0.4
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, score > vpnThreshold, indicators
}
