package vision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/appraisal-agent/internal/llm"
	"github.com/jonathan/appraisal-agent/internal/prompts"
	"github.com/jonathan/appraisal-agent/internal/schemas"
)

// GuardrailResult is the moderation verdict for an image.
type GuardrailResult struct {
	IsProhibited bool   `json:"is_prohibited"`
	Observation  string `json:"observation"`
	Reason       string `json:"reason"`
}

// Guardrail screens images for content the service refuses to appraise:
// faces, personal documents, cash and live animals.
type Guardrail interface {
	Check(ctx context.Context, image []byte, mimeType string) (*GuardrailResult, error)
}

// LLMGuardrail asks a lightweight multimodal model for a verdict.
type LLMGuardrail struct {
	client llm.Client
}

// NewLLMGuardrail creates a guardrail backed by client.
func NewLLMGuardrail(client llm.Client) *LLMGuardrail {
	return &LLMGuardrail{client: client}
}

func (g *LLMGuardrail) Check(ctx context.Context, image []byte, mimeType string) (*GuardrailResult, error) {
	prompt, err := prompts.Get("vision.json", "guardrail")
	if err != nil {
		return nil, err
	}

	resp, err := g.client.GenerateJSONWithImage(ctx, prompt, llm.Image{Data: image, MIMEType: mimeType}, llm.TierLite)
	if err != nil {
		return nil, fmt.Errorf("guardrail generation failed: %w", err)
	}
	resp = llm.CleanJSONBlock(resp)

	if err := schemas.Validate(schemas.Guardrail, resp); err != nil {
		return nil, err
	}

	var result GuardrailResult
	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return nil, fmt.Errorf("failed to parse guardrail response: %w (content: %s)", err, resp)
	}
	return &result, nil
}
