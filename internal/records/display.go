package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/search"
	"github.com/jonathan/appraisal-agent/internal/types"
)

// Messages shown when a run could not produce a price.
const (
	MsgNoVision    = "画像を分析できませんでした"
	MsgProhibited  = "この画像は査定対象外です"
	MsgUnknown     = "画像から商品を特定できませんでした"
	MsgNoSearch    = "商品の分類ができませんでした"
	MsgUniqueItem  = "一点物のため市場価格の算出が困難です"
	MsgNoPrice     = "価格情報を取得できませんでした"
	adviceTryAgain = "もう一度お試しください"
)

// PriceInfo is the price range shown to the caller.
type PriceInfo struct {
	MinPrice       int    `json:"min_price"`
	MaxPrice       int    `json:"max_price"`
	Currency       string `json:"currency"`
	DisplayMessage string `json:"display_message"`
}

// ConfidenceInfo pairs a confidence level with the reasoning behind it.
type ConfidenceInfo struct {
	Level     types.Confidence `json:"level"`
	Reasoning string           `json:"reasoning"`
}

// DisplayResult is the caller-facing form of an appraisal, used for both the
// complete event of a live run and history responses.
type DisplayResult struct {
	AppraisalID       string                 `json:"appraisal_id,omitempty"`
	ItemName          string                 `json:"item_name,omitempty"`
	IdentifiedProduct string                 `json:"identified_product,omitempty"`
	VisualFeatures    []string               `json:"visual_features"`
	Classification    types.Classification   `json:"classification"`
	Price             *PriceInfo             `json:"price,omitempty"`
	Confidence        *ConfidenceInfo        `json:"confidence,omitempty"`
	PriceFactors      []string               `json:"price_factors,omitempty"`
	Message           string                 `json:"message,omitempty"`
	Recommendation    string                 `json:"recommendation,omitempty"`
	RetryAdvice       string                 `json:"retry_advice,omitempty"`
	TerminationPoint  types.TerminationPoint `json:"termination_point"`
	Status            types.OverallStatus    `json:"status"`
	CreatedAt         *time.Time             `json:"created_at,omitempty"`
	ImageURL          string                 `json:"image_url,omitempty"`
}

// BuildDisplay maps an outcome to its display form. The classification is
// always derived from the outcome's results.
func BuildDisplay(outcome *types.PipelineOutcome) DisplayResult {
	d := DisplayResult{
		VisualFeatures: []string{},
		Classification: types.ClassUnknown,
	}
	if outcome == nil {
		d.TerminationPoint = pipeline.TerminationPointOf(nil)
		d.Status = pipeline.StatusOf(d.TerminationPoint)
		d.Message = MsgNoVision
		d.RetryAdvice = adviceTryAgain
		return d
	}

	d.Classification = pipeline.Classify(outcome.Results)
	d.TerminationPoint = outcome.TerminationPoint
	d.Status = outcome.Status
	if d.TerminationPoint == "" {
		d.TerminationPoint = pipeline.TerminationPointOf(outcome.Results)
	}
	if d.Status == "" {
		d.Status = pipeline.StatusOf(d.TerminationPoint)
	}

	vision := outcome.VisionPayload()
	if vision == nil {
		d.Message = MsgNoVision
		d.RetryAdvice = adviceTryAgain
		return d
	}

	switch vision.Category {
	case types.CategoryProhibited:
		d.Message = MsgProhibited
		d.RetryAdvice = vision.RetryAdvice
		d.Confidence = confidence(vision.Confidence, vision.Reasoning)
		return d
	case types.CategoryUnknown:
		d.Message = MsgUnknown
		d.RetryAdvice = vision.RetryAdvice
		d.Confidence = confidence(vision.Confidence, vision.Reasoning)
		return d
	}

	d.ItemName = vision.ItemName
	if len(vision.VisualFeatures) > 0 {
		d.VisualFeatures = append([]string(nil), vision.VisualFeatures...)
	}

	market := outcome.SearchPayload()
	if market == nil {
		d.Message = MsgNoSearch
		d.Confidence = confidence(vision.Confidence, vision.Reasoning)
		return d
	}

	if market.Classification != types.MarketMassProduct {
		d.Message = MsgUniqueItem
		d.Recommendation = market.Recommendation
		if d.Recommendation == "" {
			d.Recommendation = search.RecommendationExpert
		}
		d.Confidence = confidence(market.Confidence, market.Reasoning)
		return d
	}

	d.IdentifiedProduct = market.IdentifiedProduct
	price := outcome.PricePayload()
	if !price.Usable() {
		d.Message = MsgNoPrice
		d.Confidence = confidence(market.Confidence, market.Reasoning)
		return d
	}

	d.Price = &PriceInfo{
		MinPrice:       price.MinPrice,
		MaxPrice:       price.MaxPrice,
		Currency:       price.Currency,
		DisplayMessage: price.DisplayMessage,
	}
	d.Confidence = confidence(price.Confidence, market.Reasoning)
	if len(price.PriceFactors) > 0 {
		d.PriceFactors = append([]string(nil), price.PriceFactors...)
	}
	return d
}

// BuildRecordDisplay replays a stored record into its display form.
func BuildRecordDisplay(rec *types.AppraisalRecord, imageURL string) DisplayResult {
	d := BuildDisplay(ToDisplayResult(rec))
	if rec == nil {
		return d
	}
	if rec.ID != uuid.Nil {
		d.AppraisalID = rec.ID.String()
	}
	if !rec.CreatedAt.IsZero() {
		created := rec.CreatedAt
		d.CreatedAt = &created
	}
	d.ImageURL = imageURL
	return d
}

func confidence(level types.Confidence, reasoning string) *ConfidenceInfo {
	if !level.Valid() {
		level = types.ConfidenceLow
	}
	return &ConfidenceInfo{Level: level, Reasoning: reasoning}
}
