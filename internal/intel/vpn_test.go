package intel

import (
	"strings"
	"testing"
)

func TestScoreVPNResidentialISP(t *testing.T) {
	res := Result{Org: "Comcast Cable Communications", ISP: "Comcast", ASN: "AS7922"}
	prob, isVPN, indicators := ScoreVPN(&res)
	if prob != 0 || isVPN || len(indicators) != 0 {
		t.Errorf("residential ISP scored %v (vpn=%v, indicators=%v)", prob, isVPN, indicators)
	}
}

func TestScoreVPNKeywordHits(t *testing.T) {
	res := Result{Org: "NordVPN", ISP: "Packet Hosting Ltd"}
	prob, isVPN, indicators := ScoreVPN(&res)
	// "vpn" and "hosting" both hit: 0.3 + 0.3.
	if prob != 0.6 {
		t.Errorf("probability = %v, want 0.6", prob)
	}
	if !isVPN {
		t.Error("0.6 exceeds the 0.5 threshold; should flag as VPN")
	}
	if len(indicators) != 2 {
		t.Errorf("indicators = %v, want 2 keyword hits", indicators)
	}
}

func TestScoreVPNCloudASN(t *testing.T) {
	res := Result{Org: "Example Networks", ISP: "Example", ASN: "AS16509 Amazon.com, Inc."}
	prob, _, indicators := ScoreVPN(&res)
	// "amazon" keyword does not match org/ISP here; only the ASN prefix.
	if prob != 0.4 {
		t.Errorf("probability = %v, want 0.4 for cloud ASN alone", prob)
	}
	found := false
	for _, ind := range indicators {
		if strings.HasPrefix(ind, "cloud provider ASN") {
			found = true
		}
	}
	if !found {
		t.Errorf("cloud ASN indicator missing: %v", indicators)
	}
}

func TestScoreVPNClampedToOne(t *testing.T) {
	res := Result{
		Org: "Amazon Cloud VPN Proxy Hosting Datacenter",
		ISP: "Amazon",
		ASN: "AS16509",
	}
	prob, isVPN, _ := ScoreVPN(&res)
	if prob != 1.0 {
		t.Errorf("probability = %v, want clamp to 1.0", prob)
	}
	if !isVPN {
		t.Error("clamped maximum should flag as VPN")
	}
}

func TestScoreVPNThresholdBoundary(t *testing.T) {
	// A single keyword (0.3) stays below the 0.5 threshold.
	res := Result{Org: "Acme Cloud"}
	prob, isVPN, _ := ScoreVPN(&res)
	if prob != 0.3 || isVPN {
		t.Errorf("single keyword = (%v, %v), want (0.3, false)", prob, isVPN)
	}
}

func TestScoreVPNUnknownResult(t *testing.T) {
	res := Result{Org: "Amazon VPN", ASN: "AS16509", Unknown: true}
	prob, isVPN, indicators := ScoreVPN(&res)
	if prob != 0 || isVPN || indicators != nil {
		t.Errorf("unknown result must not be scored: (%v, %v, %v)", prob, isVPN, indicators)
	}
}
