package intel

import (
	"testing"
	"time"
)

func TestIsLocalAddress(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.100", true},
		{"169.254.1.1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"203.0.113.1", false},
		{"2001:db8::1", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsLocalAddress(tt.ip); got != tt.want {
			t.Errorf("IsLocalAddress(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestResultExpired(t *testing.T) {
	now := time.Now()
	fresh := Result{FetchedAt: now.Add(-30 * time.Minute), TTL: time.Hour}
	if fresh.Expired(now) {
		t.Error("result within TTL should not be expired")
	}
	stale := Result{FetchedAt: now.Add(-2 * time.Hour), TTL: time.Hour}
	if !stale.Expired(now) {
		t.Error("result past TTL should be expired")
	}
	boundary := Result{FetchedAt: now.Add(-time.Hour), TTL: time.Hour}
	if !boundary.Expired(now) {
		t.Error("result exactly at TTL should be expired")
	}
}

func TestUnknownResultSentinel(t *testing.T) {
	res := UnknownResult("203.0.113.1", 5*time.Minute)
	if !res.Unknown {
		t.Error("sentinel must be marked unknown")
	}
	if res.VPNProbability != 0 {
		t.Error("sentinel must carry zero VPN probability")
	}
	if res.IP != "203.0.113.1" || res.Country != "Unknown" {
		t.Errorf("sentinel fields wrong: %+v", res)
	}
}

func TestLocalResult(t *testing.T) {
	res := LocalResult("192.168.1.5", time.Hour)
	if res.Unknown {
		t.Error("local result is a definitive answer, not unknown")
	}
	if res.Country != "Local" || res.ASN != "AS0" {
		t.Errorf("local result fields wrong: %+v", res)
	}
}
