// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jonathan/appraisal-agent/internal/llm"
)

// Call records one request made to the fake.
type Call struct {
	Prompt   string
	HasImage bool
	JSON     bool
	Tier     llm.ModelTier
}

// Rule answers prompts containing Match. Err, when set, is returned instead.
type Rule struct {
	Match    string
	Response string
	Err      error
}

// Client answers with the first rule whose Match occurs in the prompt.
type Client struct {
	mu    sync.Mutex
	rules []Rule
	calls []Call
}

// New creates a fake client with the given rules.
func New(rules ...Rule) *Client {
	return &Client{rules: rules}
}

// Calls returns the recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *Client) answer(ctx context.Context, call Call) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.calls = append(c.calls, call)
	rules := c.rules
	c.mu.Unlock()

	for _, r := range rules {
		if strings.Contains(call.Prompt, r.Match) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Response, nil
		}
	}
	return "", fmt.Errorf("llmtest: no rule matches prompt %.40q", call.Prompt)
}

func (c *Client) GenerateContent(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	return c.answer(ctx, Call{Prompt: prompt, Tier: tier})
}

func (c *Client) GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	return c.answer(ctx, Call{Prompt: prompt, Tier: tier, JSON: true})
}

func (c *Client) GenerateContentWithImage(ctx context.Context, prompt string, _ llm.Image, tier llm.ModelTier) (string, error) {
	return c.answer(ctx, Call{Prompt: prompt, Tier: tier, HasImage: true})
}

func (c *Client) GenerateJSONWithImage(ctx context.Context, prompt string, _ llm.Image, tier llm.ModelTier) (string, error) {
	return c.answer(ctx, Call{Prompt: prompt, Tier: tier, HasImage: true, JSON: true})
}

func (c *Client) GetModel(tier llm.ModelTier) string { return "fake-" + string(tier) }

func (c *Client) Close() error { return nil }

var _ llm.Client = (*Client)(nil)
