package novelty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/observability"
)

const (
	defaultRegistryURL     = "https://api.materialsproject.org"
	registrySummaryPath    = "/materials/summary/"
	defaultRegistryRPS     = 5.0
	defaultRegistryTimeout = 30 * time.Second
	maxErrorBody           = 512
)

// RegistryConfig configures a RegistrySource.
type RegistryConfig struct {
	BaseURL   string        // API root (default: Materials Project)
	APIKey    string        // Required: MP API key (or set MP_API_KEY env var)
	RateLimit float64       // Requests per second (default: 5)
	Timeout   time.Duration // HTTP timeout (default: 30s)
}

// RegistryOption is a functional option for RegistrySource.
type RegistryOption func(*RegistryConfig)

// WithBaseURL sets the API root.
func WithBaseURL(u string) RegistryOption {
	return func(c *RegistryConfig) {
		c.BaseURL = u
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) RegistryOption {
	return func(c *RegistryConfig) {
		c.APIKey = key
	}
}

// WithRateLimit sets the rate limit in requests per second.
func WithRateLimit(rps float64) RegistryOption {
	return func(c *RegistryConfig) {
		c.RateLimit = rps
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) RegistryOption {
	return func(c *RegistryConfig) {
		c.Timeout = d
	}
}

// RegistrySource asks the Materials Project summary endpoint whether any
// material has exactly the given formula.
type RegistrySource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// NewRegistrySource creates a Materials Project source.
func NewRegistrySource(opts ...RegistryOption) (*RegistrySource, error) {
	cfg := RegistryConfig{
		BaseURL:   defaultRegistryURL,
		APIKey:    os.Getenv("MP_API_KEY"),
		RateLimit: defaultRegistryRPS,
		Timeout:   defaultRegistryTimeout,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.APIKey == "" {
		return nil, errors.New("materials project API key required: set MP_API_KEY or use WithAPIKey()")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRegistryRPS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRegistryTimeout
	}

	return &RegistrySource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
	}, nil
}

// Name implements Source.
func (s *RegistrySource) Name() string {
	return "materials-project"
}

// Check implements Source.
func (s *RegistrySource) Check(ctx context.Context, f formula.Formula) (bool, error) {
	if err := s.rateLimit.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{}
	q.Set("formula", string(f))
	q.Set("_fields", "material_id")
	q.Set("_limit", "1")
	endpoint := s.baseURL + registrySummaryPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return false, fmt.Errorf("registry API error %d: %s", resp.StatusCode, string(body))
	}

	return parseSummary(body)
}

// parseSummary reads the document count from a summary response. The total
// in meta wins; otherwise the length of data is used.
func parseSummary(body []byte) (bool, error) {
	if !gjson.ValidBytes(body) {
		return false, fmt.Errorf("registry response is not JSON")
	}

	res := gjson.ParseBytes(body)
	if total := res.Get("meta.total_doc"); total.Exists() {
		return total.Int() > 0, nil
	}
	data := res.Get("data")
	if !data.IsArray() {
		return false, fmt.Errorf("registry response has no data array")
	}
	return data.Get("#").Int() > 0, nil
}

// NewRegistryLookup is the fault-tolerant Lookup over the registry.
func NewRegistryLookup(source *RegistrySource, breaker *Breaker, metrics *observability.Metrics) *Resilient {
	if breaker == nil {
		breaker = NewBreaker(DefaultBreakerConfig())
	}
	return NewResilient(source, breaker, metrics)
}
