package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/appraisal-agent/internal/lens"
	"github.com/jonathan/appraisal-agent/internal/llm"
	"github.com/jonathan/appraisal-agent/internal/prompts"
)

// Identifier names the product in an image given visual search evidence.
type Identifier interface {
	Identify(ctx context.Context, image []byte, mimeType string, evidence *lens.Result) (name string, features []string, err error)
}

// LLMIdentifier matches the photo against the visual search results with a
// multimodal model.
type LLMIdentifier struct {
	client llm.Client
}

// NewLLMIdentifier creates an identifier backed by client.
func NewLLMIdentifier(client llm.Client) *LLMIdentifier {
	return &LLMIdentifier{client: client}
}

func (i *LLMIdentifier) Identify(ctx context.Context, image []byte, mimeType string, evidence *lens.Result) (string, []string, error) {
	prompt, err := prompts.Render("vision.json", "identify-product", map[string]string{
		"LensContext": evidence.LLMContext(),
	})
	if err != nil {
		return "", nil, err
	}

	resp, err := i.client.GenerateContentWithImage(ctx, prompt, llm.Image{Data: image, MIMEType: mimeType}, llm.TierStandard)
	if err != nil {
		return "", nil, fmt.Errorf("identification failed: %w", err)
	}

	name, features := ParseIdentification(resp)
	return name, features, nil
}

// ParseIdentification reads the "商品名:" and "特徴:" lines of a model
// response. Full-width colons are accepted.
func ParseIdentification(text string) (string, []string) {
	var (
		name     string
		features []string
	)
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if value, ok := labelValue(line, "商品名"); ok {
			name = value
		} else if value, ok := labelValue(line, "特徴"); ok {
			features = nil
			for _, f := range strings.FieldsFunc(value, isFeatureSeparator) {
				if f = strings.TrimSpace(f); f != "" {
					features = append(features, f)
				}
			}
		}
	}
	return name, features
}

func labelValue(line, label string) (string, bool) {
	for _, sep := range []string{":", "："} {
		if rest, ok := strings.CutPrefix(line, label+sep); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

func isFeatureSeparator(r rune) bool {
	return r == ',' || r == '、' || r == '，'
}
