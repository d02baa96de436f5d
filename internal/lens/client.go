// Package lens is a client for visual search through SerpAPI's Google Lens
// engine.
package lens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jonathan/appraisal-agent/internal/types"
)

// DefaultEndpoint is the SerpAPI search endpoint.
const DefaultEndpoint = "https://serpapi.com/search"

const (
	defaultTimeout       = 60 * time.Second
	defaultMaxRetries    = 2
	defaultRetryInterval = time.Second
	maxResponseBytes     = 8 << 20
)

// Config holds client settings.
type Config struct {
	APIKey        string
	Endpoint      string
	Language      string
	Country       string
	Timeout       time.Duration
	MaxRetries    uint
	RetryInterval time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client searches Google Lens by image URL.
type Client struct {
	apiKey        string
	endpoint      string
	language      string
	country       string
	maxRetries    uint
	retryInterval time.Duration
	http          *http.Client
	logger        *slog.Logger
}

// ErrMalformedResponse is wrapped when a response body cannot be decoded.
var ErrMalformedResponse = errors.New("malformed Google Lens response")

// APIError is a non-200 response or an error reported in the response body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP error: %d", e.StatusCode)
	}
	return e.Message
}

// Transient reports whether the request is worth retrying.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// NewClient creates a client. An API key is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("SerpAPI API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Language == "" {
		cfg.Language = "ja"
	}
	if cfg.Country == "" {
		cfg.Country = "jp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		apiKey:        cfg.APIKey,
		endpoint:      cfg.Endpoint,
		language:      cfg.Language,
		country:       cfg.Country,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		http:          cfg.HTTPClient,
		logger:        cfg.Logger,
	}, nil
}

// DefaultConfig returns settings matching the production service: two
// retries one second apart, Japanese results.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:        apiKey,
		MaxRetries:    defaultMaxRetries,
		RetryInterval: defaultRetryInterval,
	}
}

// Search runs a Google Lens search for the publicly reachable image URL.
// Gateway errors, timeouts and transport errors are retried. Failures are
// returned as *types.ExternalCallError.
func (c *Client) Search(ctx context.Context, imageURL string) (*Result, error) {
	attempt := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval

	result, err := backoff.Retry(ctx, func() (*Result, error) {
		if attempt > 0 {
			c.logger.Warn("Google Lens search failed, retrying", "attempt", attempt, "max_retries", c.maxRetries)
		}
		attempt++
		return c.search(ctx, imageURL)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxRetries+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &types.ExternalCallError{
			Stage:     types.StageVision,
			Op:        "google lens search",
			Cause:     err,
			Transient: isTransient(err),
		}
	}

	c.logger.Info("Google Lens search complete",
		"visual_matches", len(result.VisualMatches),
		"knowledge_graph", result.KnowledgeGraph != nil)
	return result, nil
}

func (c *Client) search(ctx context.Context, imageURL string) (*Result, error) {
	params := url.Values{}
	params.Set("engine", "google_lens")
	params.Set("url", imageURL)
	params.Set("api_key", c.apiKey)
	params.Set("hl", c.language)
	params.Set("country", c.country)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if apiErr.Transient() {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result, err := ParseResponse(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return result, nil
}

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return !errors.Is(err, ErrMalformedResponse)
}

// ParseResponse decodes a SerpAPI Google Lens response body.
func ParseResponse(body []byte) (*Result, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if raw.SearchMetadata.Status == "Error" {
		msg := raw.Error
		if msg == "" {
			msg = "Unknown API error"
		}
		return nil, &APIError{Message: msg}
	}

	result := &Result{
		VisualMatches:  make([]VisualMatch, 0, len(raw.VisualMatches)),
		KnowledgeGraph: raw.knowledgeGraph(),
	}
	for _, m := range raw.VisualMatches {
		result.VisualMatches = append(result.VisualMatches, VisualMatch{
			Position:  m.Position,
			Title:     m.Title,
			Link:      m.Link,
			Source:    m.Source,
			Price:     string(m.Price),
			Thumbnail: m.Thumbnail,
			InStock:   m.InStock,
		})
	}
	for _, rc := range raw.RelatedContent {
		if rc.Query != "" {
			result.RelatedQueries = append(result.RelatedQueries, rc.Query)
		}
	}
	return result, nil
}
