// Package pricing implements the final appraisal stage: it looks up the
// second-hand price range of an identified product.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/appraisal-agent/internal/fetch"
	"github.com/jonathan/appraisal-agent/internal/llm"
	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/prompts"
	"github.com/jonathan/appraisal-agent/internal/research"
	"github.com/jonathan/appraisal-agent/internal/schemas"
	"github.com/jonathan/appraisal-agent/internal/types"
	"github.com/jonathan/appraisal-agent/internal/validation"
)

const (
	querySuffix      = " メルカリ 価格"
	evidenceResults  = 10
	evidenceInPrompt = 10
	defaultMaxPages  = 3

	noPriceMessage = "価格情報が見つかりませんでした"
)

// PageReader reads listing pages concurrently, skipping failures.
type PageReader interface {
	ReadAll(ctx context.Context, urls []string) []*fetch.Page
}

// Config holds Lookup collaborators. Only Client is required.
type Config struct {
	Client   llm.Client
	Searcher research.Searcher
	Pages    PageReader
	Cache    Cache
	MaxPages int
	Logger   *slog.Logger
}

// Lookup estimates price ranges from web evidence with an LLM.
type Lookup struct {
	client   llm.Client
	searcher research.Searcher
	pages    PageReader
	cache    Cache
	maxPages int
	logger   *slog.Logger
}

// NewLookup creates a price lookup.
func NewLookup(cfg Config) (*Lookup, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("pricing: LLM client is required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Lookup{
		client:   cfg.Client,
		searcher: cfg.Searcher,
		pages:    cfg.Pages,
		cache:    cfg.Cache,
		maxPages: cfg.MaxPages,
		logger:   cfg.Logger.With("stage", types.StagePrice),
	}, nil
}

// BuildQuery turns an identified product ("NIKE Air Max 90, 白") into a
// marketplace price query.
func BuildQuery(product string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(product, ",", " ")), " ") + querySuffix
}

type priceResponse struct {
	MinPrice       int              `json:"min_price"`
	MaxPrice       int              `json:"max_price"`
	Currency       string           `json:"currency"`
	Confidence     types.Confidence `json:"confidence"`
	Reasoning      string           `json:"reasoning"`
	DisplayMessage string           `json:"display_message"`
	PriceFactors   []string         `json:"price_factors"`
}

// LookupPriceRange returns the price range for product. Failures yield an
// error-status payload; an error is returned only when ctx is done.
func (l *Lookup) LookupPriceRange(ctx context.Context, product string) (*types.PricePayload, error) {
	query := BuildQuery(product)
	logger := l.logger.With("query", query)

	if l.cache != nil {
		cached, ok, err := l.cache.Get(ctx, query)
		switch {
		case err != nil:
			logger.Warn("price cache lookup failed", "error", err)
		case ok:
			logger.Info("price cache hit")
			pipeline.Think(ctx, "最近の相場データを使用します")
			return cached, nil
		}
	}

	evidence := l.gatherEvidence(ctx, query, logger)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	pipeline.Think(ctx, "相場価格を算出しています")
	resp, err := l.extract(ctx, product, query, evidence)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Error("price extraction failed", "error", err)
		return ErrorPayload(query, err), nil
	}

	payload := toPayload(resp, query)
	if payload.Status == types.PriceComplete && l.cache != nil {
		if err := l.cache.Set(ctx, query, payload); err != nil {
			logger.Warn("failed to cache price", "error", err)
		}
	}

	logger.Info("price lookup complete",
		"status", payload.Status,
		"min_price", payload.MinPrice,
		"max_price", payload.MaxPrice,
		"confidence", payload.Confidence)
	return payload, nil
}

// gatherEvidence collects search snippets and listing page text. Every
// source is optional.
func (l *Lookup) gatherEvidence(ctx context.Context, query string, logger *slog.Logger) string {
	if l.searcher == nil {
		return research.Format(nil, 0)
	}

	pipeline.Think(ctx, "フリマサイトの取引価格を検索しています")
	results, err := l.searcher.Search(ctx, query, evidenceResults)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("price evidence search failed", "error", err, "transient", research.IsTransient(err))
		}
		return research.Format(nil, 0)
	}

	var b strings.Builder
	b.WriteString("【検索結果】\n")
	b.WriteString(research.Format(results, evidenceInPrompt))

	var observed []int
	for _, r := range results {
		observed = append(observed, ExtractYenPrices(r.Title+" "+r.Snippet)...)
	}

	if l.pages != nil {
		if links := research.ListingLinks(results, l.maxPages); len(links) > 0 {
			pipeline.Think(ctx, "出品ページを確認しています")
			pages := l.pages.ReadAll(ctx, links)
			for _, p := range pages {
				fmt.Fprintf(&b, "\n\n【出品ページ】%s", p.Title)
				if label := p.Marketplace.Label(); label != "" {
					fmt.Fprintf(&b, " (%s)", label)
				}
				fmt.Fprintf(&b, "\n%s", p.Text)
				observed = append(observed, ExtractYenPrices(p.Text)...)
			}
		}
	}

	if stats, ok := Summarize(observed); ok {
		b.WriteString("\n\n【検出された価格】" + stats.String())
		pipeline.ReportProgress(ctx, fmt.Sprintf("%d件の価格情報が見つかりました", stats.Count), map[string]int{
			"min":    stats.Min,
			"median": stats.Median,
			"max":    stats.Max,
		})
	}
	return b.String()
}

func (l *Lookup) extract(ctx context.Context, product, query, evidence string) (*priceResponse, error) {
	prompt, err := prompts.Render("price.json", "extract-price-range", map[string]string{
		"Product":     product,
		"SearchQuery": query,
		"Evidence":    validation.SanitizeExternal(l.logger, evidence, "market data", query),
	})
	if err != nil {
		return nil, err
	}

	text, err := l.client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}
	text = llm.CleanJSONBlock(text)

	if err := schemas.Validate(schemas.Price, text); err != nil {
		return nil, err
	}

	var resp priceResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse price range: %w (content: %s)", err, text)
	}
	return &resp, nil
}

func toPayload(resp *priceResponse, query string) *types.PricePayload {
	minPrice, maxPrice := resp.MinPrice, resp.MaxPrice
	if minPrice > maxPrice {
		minPrice, maxPrice = maxPrice, minPrice
	}

	currency := strings.ToUpper(strings.TrimSpace(resp.Currency))
	if currency == "" {
		currency = types.DefaultCurrency
	}

	payload := &types.PricePayload{
		Status:         types.PriceComplete,
		MinPrice:       minPrice,
		MaxPrice:       maxPrice,
		Currency:       currency,
		Confidence:     resp.Confidence,
		DisplayMessage: resp.DisplayMessage,
		PriceFactors:   resp.PriceFactors,
		SearchQuery:    query,
	}
	if !payload.Confidence.Valid() {
		payload.Confidence = types.ConfidenceLow
	}

	if minPrice == 0 && maxPrice == 0 {
		payload.Status = types.PriceError
		payload.Error = noPriceMessage
		if payload.DisplayMessage == "" {
			payload.DisplayMessage = noPriceMessage
		}
		return payload
	}
	if payload.DisplayMessage == "" {
		payload.DisplayMessage = fmt.Sprintf("中古相場は%s〜%sです", FormatYen(minPrice), FormatYen(maxPrice))
	}
	return payload
}

// ErrorPayload is the result used when the lookup cannot be completed.
func ErrorPayload(query string, cause error) *types.PricePayload {
	return &types.PricePayload{
		Status:         types.PriceError,
		Currency:       types.DefaultCurrency,
		Confidence:     types.ConfidenceLow,
		DisplayMessage: "価格検索中にエラーが発生しました: " + cause.Error(),
		SearchQuery:    query,
		Error:          cause.Error(),
	}
}
