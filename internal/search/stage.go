package search

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/types"
)

// Backend classifies the market of an identified item.
type Backend interface {
	ClassifyMarket(ctx context.Context, item ItemContext) (*types.SearchPayload, error)
}

// Stage is the search pipeline stage.
type Stage struct {
	backend Backend
	logger  *slog.Logger
}

// NewStage wraps backend as a pipeline stage.
func NewStage(backend Backend, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{backend: backend, logger: logger}
}

func (s *Stage) Name() types.StageName { return types.StageSearch }

// Execute continues for mass-produced items and terminates with unique_item
// otherwise.
func (s *Stage) Execute(ctx context.Context, sc *pipeline.StageContext) (types.StageResult, error) {
	vision, ok := sc.VisionPayload()
	if !ok {
		return types.Terminate(types.ReasonUniqueItem, Fallback("", errors.New("vision result missing"))), nil
	}

	item := ItemContext{
		ItemName:       vision.ItemName,
		VisualFeatures: vision.VisualFeatures,
		Comment:        sc.Request().Comment,
	}

	payload, err := s.backend.ClassifyMarket(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			return types.StageResult{}, ctx.Err()
		}
		s.logger.Error("search backend failed", "stage", types.StageSearch, "error", err)
		payload = Fallback(BuildQuery(item), err)
	}
	if payload == nil {
		payload = Fallback(BuildQuery(item), errors.New("empty search result"))
	}

	if payload.Classification == types.MarketMassProduct {
		if payload.IdentifiedProduct == "" {
			payload.IdentifiedProduct = vision.ItemName
		}
		return types.Continue(payload), nil
	}

	payload.Classification = types.MarketUniqueItem
	if payload.Recommendation == "" {
		payload.Recommendation = RecommendationExpert
	}
	return types.Terminate(types.ReasonUniqueItem, payload), nil
}

var _ pipeline.Stage = (*Stage)(nil)
