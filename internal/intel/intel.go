package intel

import (
	"net"
	"time"
)

// Result holds the threat intelligence gathered for a single IP address:
// geolocation, organisation/ASN, and a VPN/proxy likelihood derived from
// provider signals. A Result is a value — once handed to a caller it is
// never mutated by the cache.
type Result struct {
	IP             string    `json:"ip"`
	Country        string    `json:"country,omitempty"`
	CountryCode    string    `json:"country_code,omitempty"`
	Region         string    `json:"region,omitempty"`
	City           string    `json:"city,omitempty"`
	Latitude       float64   `json:"latitude,omitempty"`
	Longitude      float64   `json:"longitude,omitempty"`
	ISP            string    `json:"isp,omitempty"`
	Org            string    `json:"org,omitempty"`
	ASN            string    `json:"asn,omitempty"`
	VPNProbability float64   `json:"vpn_probability"`
	IsVPN          bool      `json:"is_vpn"`
	VPNIndicators  []string  `json:"vpn_indicators,omitempty"`

	// Unknown marks a failed lookup. It is a distinct "no signal" state:
	// scoring must treat it neutrally, never as a confirmed-safe result.
	Unknown bool `json:"unknown"`

	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the result has outlived its freshness TTL.
func (r *Result) Expired(now time.Time) bool {
	return now.Sub(r.FetchedAt) >= r.TTL
}

// UnknownResult builds the sentinel returned when the provider could not be
// reached. All optional fields stay absent and VPN probability is zero.
func UnknownResult(ip string, ttl time.Duration) Result {
	return Result{
		IP:        ip,
		Country:   "Unknown",
		Unknown:   true,
		FetchedAt: time.Now().UTC(),
		TTL:       ttl,
	}
}

// LocalResult describes loopback and RFC1918 sources, which are never sent
// to the external provider.
func LocalResult(ip string, ttl time.Duration) Result {
	return Result{
		IP:        ip,
		Country:   "Local",
		City:      "Local Network",
		ISP:       "Local",
		Org:       "Local",
		ASN:       "AS0",
		FetchedAt: time.Now().UTC(),
		TTL:       ttl,
	}
}

// IsLocalAddress reports whether ip is loopback, link-local, private, or
// unspecified — addresses with no meaningful external intelligence.
func IsLocalAddress(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate() ||
		parsed.IsLinkLocalUnicast() || parsed.IsUnspecified()
}
