package pricing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/types"
)

// Backend looks up the price range of a product.
type Backend interface {
	LookupPriceRange(ctx context.Context, identifiedProduct string) (*types.PricePayload, error)
}

// Stage is the price pipeline stage. It always terminates.
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

func (s *Stage) Name() types.StageName { return types.StagePrice }

// Execute terminates with priced when the range is usable and price_failed
// otherwise.
func (s *Stage) Execute(ctx context.Context, sc *pipeline.StageContext) (types.StageResult, error) {
	product := productName(sc)
	if product == "" {
		return types.Terminate(types.ReasonPriceFailed, ErrorPayload("", errors.New("no product to price"))), nil
	}

	payload, err := s.backend.LookupPriceRange(ctx, product)
	if err != nil {
		if ctx.Err() != nil {
			return types.StageResult{}, ctx.Err()
		}
		s.logger.Error("price backend failed", "stage", types.StagePrice, "error", err)
		payload = ErrorPayload(BuildQuery(product), err)
	}
	if payload == nil {
		payload = ErrorPayload(BuildQuery(product), errors.New("empty price result"))
	}

	if payload.Usable() {
		return types.Terminate(types.ReasonPriced, payload), nil
	}
	payload.Status = types.PriceError
	return types.Terminate(types.ReasonPriceFailed, payload), nil
}

// productName prefers the product search identified over the vision name.
func productName(sc *pipeline.StageContext) string {
	if p, ok := sc.SearchPayload(); ok && p.IdentifiedProduct != "" {
		return p.IdentifiedProduct
	}
	if p, ok := sc.VisionPayload(); ok {
		return p.ItemName
	}
	return ""
}

var _ pipeline.Stage = (*Stage)(nil)
