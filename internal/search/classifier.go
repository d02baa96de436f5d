// Package search implements the second appraisal stage: it decides whether
// an identified item is a mass-produced product with a resale market or a
// one-of-a-kind piece.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/appraisal-agent/internal/llm"
	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/prompts"
	"github.com/jonathan/appraisal-agent/internal/research"
	"github.com/jonathan/appraisal-agent/internal/schemas"
	"github.com/jonathan/appraisal-agent/internal/types"
	"github.com/jonathan/appraisal-agent/internal/validation"
)

const (
	// RecommendationExpert accompanies every unique_item result.
	RecommendationExpert = "専門家による査定をお勧めします"

	defaultQuery     = "商品"
	queryFeatures    = 3
	evidenceResults  = 8
	evidenceInPrompt = 8
	evidenceLinks    = 5
)

// ItemContext is what the vision stage learned about the item.
type ItemContext struct {
	ItemName       string
	VisualFeatures []string
	Comment        string
}

// BuildQuery joins the item name and the first few visual features.
func BuildQuery(item ItemContext) string {
	parts := make([]string, 0, 1+queryFeatures)
	if name := strings.TrimSpace(item.ItemName); name != "" {
		parts = append(parts, name)
	}
	for i, f := range item.VisualFeatures {
		if i >= queryFeatures {
			break
		}
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return defaultQuery
	}
	return strings.Join(parts, " ")
}

// Classifier classifies the market of an item using web evidence and an LLM.
type Classifier struct {
	client   llm.Client
	searcher research.Searcher
	logger   *slog.Logger
}

// NewClassifier creates a classifier. searcher may be nil, in which case the
// model decides from the item context alone.
func NewClassifier(client llm.Client, searcher research.Searcher, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client:   client,
		searcher: searcher,
		logger:   logger.With("stage", types.StageSearch),
	}
}

type marketResponse struct {
	Classification    types.MarketClass `json:"classification"`
	Confidence        types.Confidence  `json:"confidence"`
	Reasoning         string            `json:"reasoning"`
	IdentifiedProduct *string           `json:"identified_product"`
}

// ClassifyMarket returns the market classification for item. Search and
// model failures yield a low-confidence unique_item result; an error is
// returned only when ctx is done.
func (c *Classifier) ClassifyMarket(ctx context.Context, item ItemContext) (*types.SearchPayload, error) {
	query := BuildQuery(item)

	var evidence []research.Evidence
	if c.searcher != nil {
		pipeline.Think(ctx, "Web検索で市場情報を収集しています")
		found, err := c.searcher.Search(ctx, query, evidenceResults)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			c.logger.Warn("web evidence search failed, classifying without it", "query", query, "error", err, "transient", research.IsTransient(err))
		default:
			evidence = found
			pipeline.ReportProgress(ctx, fmt.Sprintf("%d件の検索結果が見つかりました", len(evidence)), evidenceTitles(evidence, 3))
		}
	}

	pipeline.Think(ctx, "既製品か一点物かを判定しています")
	resp, err := c.classify(ctx, item, query, evidence)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("market classification failed", "query", query, "error", err)
		return Fallback(query, err), nil
	}

	payload := &types.SearchPayload{
		Classification: resp.Classification,
		Confidence:     resp.Confidence,
		Reasoning:      resp.Reasoning,
		SearchQuery:    query,
		Evidence:       evidenceLinksOf(evidence),
	}
	switch resp.Classification {
	case types.MarketMassProduct:
		payload.IdentifiedProduct = strings.TrimSpace(item.ItemName)
		if resp.IdentifiedProduct != nil && strings.TrimSpace(*resp.IdentifiedProduct) != "" {
			payload.IdentifiedProduct = strings.TrimSpace(*resp.IdentifiedProduct)
		}
	default:
		payload.Recommendation = RecommendationExpert
	}

	c.logger.Info("market classification complete",
		"classification", payload.Classification,
		"confidence", payload.Confidence,
		"identified_product", payload.IdentifiedProduct)
	return payload, nil
}

func (c *Classifier) classify(ctx context.Context, item ItemContext, query string, evidence []research.Evidence) (*marketResponse, error) {
	comment := strings.TrimSpace(item.Comment)
	if comment == "" {
		comment = "(なし)"
	}

	prompt, err := prompts.Render("search.json", "classify-market", map[string]string{
		"ItemName":       item.ItemName,
		"VisualFeatures": strings.Join(item.VisualFeatures, ", "),
		"Comment":        comment,
		"SearchQuery":    query,
		"Evidence":       validation.SanitizeExternal(c.logger, research.Format(evidence, evidenceInPrompt), "search results", query),
	})
	if err != nil {
		return nil, err
	}

	text, err := c.client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}
	text = llm.CleanJSONBlock(text)

	if err := schemas.Validate(schemas.Market, text); err != nil {
		return nil, err
	}

	var resp marketResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse market classification: %w (content: %s)", err, text)
	}
	return &resp, nil
}

// Fallback is the result used when classification cannot be completed.
func Fallback(query string, cause error) *types.SearchPayload {
	return &types.SearchPayload{
		Classification: types.MarketUniqueItem,
		Confidence:     types.ConfidenceLow,
		Reasoning:      "検索エラーのため判定できませんでした: " + cause.Error(),
		Recommendation: RecommendationExpert,
		SearchQuery:    query,
	}
}

func evidenceTitles(items []research.Evidence, n int) []string {
	var titles []string
	for i, e := range items {
		if i >= n {
			break
		}
		titles = append(titles, e.Title)
	}
	return titles
}

func evidenceLinksOf(items []research.Evidence) []string {
	var links []string
	for i, e := range items {
		if i >= evidenceLinks {
			break
		}
		links = append(links, e.Link)
	}
	return links
}
