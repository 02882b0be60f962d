package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Provider resolves an IP address to raw intelligence. The production
// implementation is Client; tests substitute fakes.
type Provider interface {
	Fetch(ctx context.Context, ip string) (Result, error)
}

// ClientConfig controls the HTTP intelligence client.
type ClientConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	Retries  int           `yaml:"retries" json:"retries"`
}

// DefaultClientConfig returns sane defaults for the free ip-api tier.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint: "http://ip-api.com/json/",
		Timeout:  2 * time.Second,
		Retries:  1,
	}
}

// Client queries an ip-api compatible geolocation provider over HTTP with a
// bounded timeout and at most cfg.Retries retries on transient failure.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates an intelligence provider client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultClientConfig().Endpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "intel_client").Logger(),
	}
}

// providerResponse mirrors the ip-api JSON schema.
type providerResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
	Query       string  `json:"query"`
}

// Fetch issues one query per call plus bounded retries on timeouts and
// 5xx-equivalent responses. Permanent provider errors (a "fail" status for a
// reserved range, a 4xx) are not retried.
func (c *Client) Fetch(ctx context.Context, ip string) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		res, retryable, err := c.fetchOnce(ctx, ip)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.logger.Debug().Err(err).Str("ip", ip).Int("attempt", attempt+1).
			Msg("transient provider failure")
	}
	return Result{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, ip string) (Result, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := c.cfg.Endpoint + url.PathEscape(ip) +
		"?fields=status,message,country,countryCode,regionName,city,lat,lon,isp,org,as,query"

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, false, fmt.Errorf("building provider request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient.
		return Result{}, true, fmt.Errorf("querying provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return Result{}, true, fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Result{}, false, fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
	}

	var pr providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Result{}, false, fmt.Errorf("decoding provider response: %w", err)
	}
	if pr.Status != "success" {
		return Result{}, false, fmt.Errorf("provider lookup failed for %s: %s", ip, pr.Message)
	}

	res := Result{
		IP:          pr.Query,
		Country:     pr.Country,
		CountryCode: pr.CountryCode,
		Region:      pr.RegionName,
		City:        pr.City,
		Latitude:    pr.Lat,
		Longitude:   pr.Lon,
		ISP:         pr.ISP,
		Org:         pr.Org,
		ASN:         pr.AS,
		FetchedAt:   time.Now().UTC(),
	}
	if res.IP == "" {
		res.IP = ip
	}
	res.VPNProbability, res.IsVPN, res.VPNIndicators = ScoreVPN(&res)
	return res, false, nil
}
