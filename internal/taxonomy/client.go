package taxonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

// ClientConfig holds configuration for the remote taxonomy client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 = unlimited
	Burst       int
	NotFoundTTL time.Duration // how long a 404 is remembered
}

// DefaultClientConfig returns the public iNaturalist API settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:     "https://api.inaturalist.org/v1",
		Timeout:     5 * time.Second,
		RateLimit:   1,
		Burst:       5,
		NotFoundTTL: time.Minute,
	}
}

// taxaResponse is the envelope of GET /taxa/{id}
type taxaResponse struct {
	TotalResults int           `json:"total_results"`
	Results      []remoteTaxon `json:"results"`
}

type remoteTaxon struct {
	ID            uint    `json:"id"`
	Name          string  `json:"name"`
	Rank          string  `json:"rank"`
	RankLevel     float64 `json:"rank_level"`
	AncestorIDs   []uint  `json:"ancestor_ids"` // ends with the taxon itself
	Threatened    bool    `json:"threatened"`
	IconicTaxonID uint    `json:"iconic_taxon_id"`
}

func (r *remoteTaxon) toTaxon() *Taxon {
	ancestors := r.AncestorIDs
	if n := len(ancestors); n > 0 && ancestors[n-1] == r.ID {
		ancestors = ancestors[:n-1]
	}
	level := r.RankLevel
	if level == 0 {
		level, _ = RankLevelFor(r.Rank)
	}
	return &Taxon{
		ID:            r.ID,
		Name:          r.Name,
		Rank:          r.Rank,
		RankLevel:     level,
		AncestorIDs:   append([]uint(nil), ancestors...),
		Threatened:    r.Threatened,
		IconicTaxonID: r.IconicTaxonID,
	}
}

// ClientStats is a snapshot of client counters.
type ClientStats struct {
	APICalls      int64
	APIErrors     int64
	NotFoundHits  int64
	TotalDuration time.Duration
}

// Client fetches taxa from a remote taxonomy service. It implements Source.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	notFound   *cache.Cache
	logger     logger.Logger

	metrics struct {
		mu sync.Mutex
		ClientStats
	}
}

// NewClient creates a remote taxonomy client.
func NewClient(config ClientConfig, httpClient *http.Client, log logger.Logger) (*Client, error) {
	defaults := DefaultClientConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
		return nil, errors.Newf("taxonomy base URL must be http(s): %q", config.BaseURL).
			Category(errors.CategoryConfiguration).
			Component("taxonomy").
			Build()
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.NotFoundTTL <= 0 {
		config.NotFoundTTL = defaults.NotFoundTTL
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	c := &Client{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, config.Burst),
		notFound:   cache.New(config.NotFoundTTL, 2*config.NotFoundTTL),
		logger:     log.Module("taxonomy").Module("client"),
	}

	c.logger.Info("taxonomy client initialized",
		logger.String("base_url", config.BaseURL),
		logger.Float64("rate_limit", config.RateLimit),
		logger.Bool("api_key_configured", config.APIKey != ""))

	return c, nil
}

// Fetch implements Source.
func (c *Client) Fetch(ctx context.Context, id uint) (*Taxon, error) {
	key := cacheKey(id)
	if _, found := c.notFound.Get(key); found {
		c.metrics.mu.Lock()
		c.metrics.NotFoundHits++
		c.metrics.mu.Unlock()
		return nil, notFound(id)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/taxa/%d", strings.TrimRight(c.config.BaseURL, "/"), id)

	var resp taxaResponse
	if err := c.doRequestWithRetry(reqCtx, url, &resp); err != nil {
		if errors.IsNotFound(err) {
			c.notFound.Set(key, struct{}{}, cache.DefaultExpiration)
		}
		return nil, err
	}

	for i := range resp.Results {
		if resp.Results[i].ID == id {
			return resp.Results[i].toTaxon(), nil
		}
	}

	c.notFound.Set(key, struct{}{}, cache.DefaultExpiration)
	return nil, notFound(id)
}

// doRequest performs one GET with rate limiting and decodes the JSON body.
func (c *Client) doRequest(ctx context.Context, url string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.New(err).
			Category(errors.CategoryTimeout).
			Component("taxonomy").
			Context("url", url).
			Build()
	}

	start := time.Now()
	c.metrics.mu.Lock()
	c.metrics.APICalls++
	c.metrics.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return c.requestError(fmt.Errorf("failed to create HTTP request: %w", err), url, 0)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.requestError(fmt.Errorf("HTTP request failed: %w", err), url, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.requestError(fmt.Errorf("failed to read response body: %w", err), url, resp.StatusCode)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		preview := string(bodyBytes)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return c.requestError(fmt.Errorf("taxonomy API error (status %d): %s", resp.StatusCode, preview), url, resp.StatusCode)
	}

	if err := json.Unmarshal(bodyBytes, result); err != nil {
		return errors.Newf("failed to parse taxonomy response: %w", err).
			Category(errors.CategoryFileParsing).
			Component("taxonomy").
			Context("url", url).
			Context("response_size", len(bodyBytes)).
			Build()
	}

	duration := time.Since(start)
	c.metrics.mu.Lock()
	c.metrics.TotalDuration += duration
	c.metrics.mu.Unlock()

	c.logger.Debug("taxonomy API request successful",
		logger.String("url", url),
		logger.Int64("duration_ms", duration.Milliseconds()))
	return nil
}

func (c *Client) requestError(err error, url string, status int) error {
	c.metrics.mu.Lock()
	c.metrics.APIErrors++
	c.metrics.mu.Unlock()

	c.logger.Warn("taxonomy API request failed",
		logger.String("url", url),
		logger.Int("status_code", status),
		logger.Error(err))

	return errors.New(err).
		Category(getErrorCategory(status)).
		Component("taxonomy").
		Context("url", url).
		Context("status_code", status).
		Build()
}

// doRequestWithRetry retries transient failures. Client errors other than 429 are final.
func (c *Client) doRequestWithRetry(ctx context.Context, url string, result any) error {
	const maxRetries = 3
	var lastErr error

	for attempt := range maxRetries {
		err := c.doRequest(ctx, url, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == maxRetries-1 {
			break
		}

		backoff := time.Duration(attempt+1) * 500 * time.Millisecond
		c.logger.Debug("retrying taxonomy request",
			logger.String("url", url),
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff):
		}
	}

	return lastErr
}

func shouldRetry(err error) bool {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return true
	}
	switch ee.Category {
	case errors.CategoryNotFound, errors.CategoryValidation, errors.CategoryConfiguration, errors.CategoryFileParsing, errors.CategoryTimeout:
		return false
	}
	if status, ok := ee.GetContext()["status_code"].(int); ok && status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return false
	}
	return true
}

// getErrorCategory maps HTTP status codes to error categories
func getErrorCategory(statusCode int) errors.ErrorCategory {
	switch {
	case statusCode == 0:
		return errors.CategoryNetwork
	case statusCode == http.StatusNotFound:
		return errors.CategoryNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errors.CategoryConfiguration
	case statusCode == http.StatusTooManyRequests:
		return errors.CategoryLimit
	case statusCode >= 400 && statusCode < 500:
		return errors.CategoryValidation
	default:
		return errors.CategoryNetwork
	}
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() ClientStats {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	return c.metrics.ClientStats
}

var _ Source = (*Client)(nil)
