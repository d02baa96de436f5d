// Package research gathers web evidence for market classification and price
// lookup through Google Custom Search.
package research

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// maxResultsPerQuery is the Custom Search API limit.
const maxResultsPerQuery = 10

// Searcher returns evidence for a query.
type Searcher interface {
	Search(ctx context.Context, query string, num int64) ([]Evidence, error)
}

// Client runs Custom Search queries restricted to Japanese results.
type Client struct {
	svc *customsearch.Service
	cx  string
}

// NewClient creates a Custom Search client. Extra options are appended after
// the API key, so tests can override the endpoint.
func NewClient(ctx context.Context, apiKey, cx string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" || cx == "" {
		return nil, errors.New("custom search API key and engine ID are required")
	}
	svc, err := customsearch.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &Client{svc: svc, cx: cx}, nil
}

// Search returns up to num results for query.
func (c *Client) Search(ctx context.Context, query string, num int64) ([]Evidence, error) {
	if num <= 0 || num > maxResultsPerQuery {
		num = maxResultsPerQuery
	}

	resp, err := c.svc.Cse.List().
		Cx(c.cx).
		Q(query).
		Num(num).
		Hl("ja").
		Gl("jp").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	evidence := make([]Evidence, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Link == "" {
			continue
		}
		evidence = append(evidence, Evidence{
			Title:   item.Title,
			Snippet: item.Snippet,
			Link:    item.Link,
			Source:  item.DisplayLink,
		})
	}
	return Dedupe(evidence), nil
}

// IsTransient reports whether a search error is worth retrying later.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}

var _ Searcher = (*Client)(nil)
