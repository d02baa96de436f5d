package pipeline

import (
	"fmt"
	"time"

	"github.com/jonathan/appraisal-agent/internal/types"
)

// Classify derives the caller-facing classification from a result sequence.
// It is the single source of the rule for both live runs and history replay:
//
//  1. last reason prohibited     -> prohibited
//  2. last reason unidentifiable -> unknown
//  3. last reason unique_item    -> unique_item
//  4. a successful price result  -> mass_product
//  5. anything else              -> unknown
func Classify(results []types.StageResult) types.Classification {
	if len(results) == 0 {
		return types.ClassUnknown
	}

	switch results[len(results)-1].TerminationReason {
	case types.ReasonProhibited:
		return types.ClassProhibited
	case types.ReasonUnidentifiable:
		return types.ClassUnknown
	case types.ReasonUniqueItem:
		return types.ClassUniqueItem
	}

	for _, r := range results {
		if r.Stage != types.StagePrice || r.TerminationReason != types.ReasonPriced {
			continue
		}
		if p, ok := r.Price(); ok && p.Usable() {
			return types.ClassMassProduct
		}
	}
	return types.ClassUnknown
}

// TerminationPointOf names where the run ended. Sequences that stop before a
// terminal result map to the point of the stage that should have followed.
func TerminationPointOf(results []types.StageResult) types.TerminationPoint {
	if len(results) == 0 {
		return types.PointVisionUnknown
	}

	last := results[len(results)-1]
	switch last.TerminationReason {
	case types.ReasonProhibited:
		return types.PointVisionProhibited
	case types.ReasonUnidentifiable:
		return types.PointVisionUnknown
	case types.ReasonUniqueItem:
		return types.PointSearchUnique
	case types.ReasonPriced:
		if p, ok := last.Price(); ok && p.Usable() {
			return types.PointPriceComplete
		}
		return types.PointPriceError
	case types.ReasonPriceFailed:
		return types.PointPriceError
	}

	// Truncated sequence.
	if last.Stage == types.StageVision {
		return types.PointVisionUnknown
	}
	return types.PointPriceError
}

// StatusOf maps a termination point to the stored overall status.
func StatusOf(point types.TerminationPoint) types.OverallStatus {
	switch point {
	case types.PointPriceComplete, types.PointSearchUnique:
		return types.StatusCompleted
	case types.PointPriceError:
		return types.StatusError
	default:
		return types.StatusIncomplete
	}
}

// NewOutcome assembles an outcome and derives its classification, termination
// point and status from results.
func NewOutcome(results []types.StageResult, startedAt, finishedAt time.Time) *types.PipelineOutcome {
	cp := make([]types.StageResult, len(results))
	copy(cp, results)

	point := TerminationPointOf(cp)
	return &types.PipelineOutcome{
		Results:          cp,
		Classification:   Classify(cp),
		TerminationPoint: point,
		Status:           StatusOf(point),
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
	}
}

// ValidateSequence checks that results form a complete run: one to three
// results in stage order without gaps, every result valid, and only the last
// one terminal.
func ValidateSequence(results []types.StageResult) error {
	if len(results) == 0 || len(results) > len(types.StageOrder) {
		return fmt.Errorf("invalid sequence length %d", len(results))
	}
	for i, r := range results {
		if r.Stage != types.StageOrder[i] {
			return fmt.Errorf("result %d: expected stage %s, got %s", i, types.StageOrder[i], r.Stage)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("result %d: %w", i, err)
		}
		isLast := i == len(results)-1
		if r.Terminal() != isLast {
			if isLast {
				return fmt.Errorf("result %d: sequence ends without a terminal decision", i)
			}
			return fmt.Errorf("result %d: stage %s terminated but later stages ran", i, r.Stage)
		}
	}
	return nil
}
