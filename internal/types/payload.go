// Package types provides type definitions for structured data used throughout the appraisal pipeline.
//
//nolint:revive // types is a standard Go package name pattern
package types

// Payload is the stage-specific data carried by a StageResult. The set of
// implementations is closed: one variant per StageName.
type Payload interface {
	Stage() StageName
	isPayload()
}

// Confidence is a coarse confidence level reported by a stage backend.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Lower returns the next lower confidence level; low stays low.
func (c Confidence) Lower() Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Valid reports whether c is a known level.
func (c Confidence) Valid() bool {
	return c == ConfidenceHigh || c == ConfidenceMedium || c == ConfidenceLow
}

// VisionCategory is the vision stage's judgment of the image.
type VisionCategory string

const (
	CategoryProcessable VisionCategory = "processable"
	CategoryUnknown     VisionCategory = "unknown"
	CategoryProhibited  VisionCategory = "prohibited"
)

// VisualMatch is one visual search hit used as identification evidence.
type VisualMatch struct {
	Title  string `json:"title"`
	Link   string `json:"link,omitempty"`
	Source string `json:"source,omitempty"`
	Price  string `json:"price,omitempty"`
}

// VisionPayload is produced by the vision stage.
type VisionPayload struct {
	Category       VisionCategory `json:"category_type"`
	ItemName       string         `json:"item_name,omitempty"`
	VisualFeatures []string       `json:"visual_features,omitempty"`
	Confidence     Confidence     `json:"confidence"`
	Reasoning      string         `json:"reasoning,omitempty"`
	RetryAdvice    string         `json:"retry_advice,omitempty"`
	VisualMatches  []VisualMatch  `json:"visual_matches,omitempty"`
}

func (*VisionPayload) Stage() StageName { return StageVision }
func (*VisionPayload) isPayload()       {}

// MarketClass is the search stage's market classification.
type MarketClass string

const (
	MarketMassProduct MarketClass = "mass_product"
	MarketUniqueItem  MarketClass = "unique_item"
)

// SearchPayload is produced by the search stage.
type SearchPayload struct {
	Classification    MarketClass `json:"classification"`
	IdentifiedProduct string      `json:"identified_product,omitempty"`
	Confidence        Confidence  `json:"confidence"`
	Reasoning         string      `json:"reasoning,omitempty"`
	Recommendation    string      `json:"recommendation,omitempty"`
	SearchQuery       string      `json:"search_query,omitempty"`
	Evidence          []string    `json:"evidence,omitempty"`
}

func (*SearchPayload) Stage() StageName { return StageSearch }
func (*SearchPayload) isPayload()       {}

// PriceStatus reports whether the price stage produced a usable range.
type PriceStatus string

const (
	PriceComplete PriceStatus = "complete"
	PriceError    PriceStatus = "error"
)

// DefaultCurrency is used when a backend omits the currency.
const DefaultCurrency = "JPY"

// PricePayload is produced by the price stage.
type PricePayload struct {
	Status         PriceStatus `json:"status"`
	MinPrice       int         `json:"min_price"`
	MaxPrice       int         `json:"max_price"`
	Currency       string      `json:"currency"`
	Confidence     Confidence  `json:"confidence"`
	DisplayMessage string      `json:"display_message,omitempty"`
	PriceFactors   []string    `json:"price_factors,omitempty"`
	SearchQuery    string      `json:"search_query,omitempty"`
	Error          string      `json:"error,omitempty"`
}

func (*PricePayload) Stage() StageName { return StagePrice }
func (*PricePayload) isPayload()       {}

// Usable reports whether the payload holds a price range worth showing.
func (p *PricePayload) Usable() bool {
	if p == nil || p.Status != PriceComplete {
		return false
	}
	if p.MinPrice < 0 || p.MaxPrice < 0 || p.MinPrice > p.MaxPrice {
		return false
	}
	return p.MinPrice > 0 || p.MaxPrice > 0
}
