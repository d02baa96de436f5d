// Package records converts pipeline outcomes into durable appraisal records
// and rebuilds caller-facing results from stored records.
package records

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/types"
)

// ErrEmptyOutcome is returned when an outcome carries no stage results.
var ErrEmptyOutcome = errors.New("outcome has no results")

// RecordMeta is the request-side data stored alongside a run's results.
type RecordMeta struct {
	// ID is assigned when zero.
	ID          uuid.UUID
	OwnerID     uuid.UUID
	ImagePath   string
	UserComment string
	Platform    types.Platform
	// Now stamps CreatedAt and UpdatedAt. The outcome's finish time is used
	// when zero.
	Now time.Time
}

// ToRecord packages an outcome for storage. The full result sequence is
// kept as-is; the classification is not stored.
func ToRecord(outcome *types.PipelineOutcome, meta RecordMeta) (*types.AppraisalRecord, error) {
	if outcome == nil || len(outcome.Results) == 0 {
		return nil, ErrEmptyOutcome
	}
	if err := pipeline.ValidateSequence(outcome.Results); err != nil {
		return nil, fmt.Errorf("failed to build record: %w", err)
	}

	id := meta.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := meta.Now
	if now.IsZero() {
		now = outcome.FinishedAt
	}
	platform := meta.Platform
	if platform == "" {
		platform = types.PlatformWeb
	}

	results := make([]types.StageResult, len(outcome.Results))
	copy(results, outcome.Results)
	last := results[len(results)-1]
	point := pipeline.TerminationPointOf(results)

	rec := &types.AppraisalRecord{
		ID:                id,
		OwnerID:           meta.OwnerID,
		CreatedAt:         now,
		UpdatedAt:         now,
		ImagePath:         meta.ImagePath,
		UserComment:       meta.UserComment,
		Platform:          platform,
		Results:           results,
		TerminationReason: last.TerminationReason,
		Status:            pipeline.StatusOf(point),
	}
	if point == types.PointSearchUnique {
		rec.UniqueItemDetails = &types.UniqueItemDetails{
			RequiresExpert:      true,
			ExpertRequestStatus: types.ExpertRequestNone,
		}
	}
	return rec, nil
}

// ToDisplayResult rebuilds the outcome a record was created from. The
// classification and termination point are derived again from the stored
// results with the same rules a live run uses, so a stored record and the
// run that produced it always agree. It never fails: a record missing data
// yields an unknown classification.
func ToDisplayResult(rec *types.AppraisalRecord) *types.PipelineOutcome {
	if rec == nil {
		return pipeline.NewOutcome(nil, time.Time{}, time.Time{})
	}

	outcome := pipeline.NewOutcome(rec.Results, rec.CreatedAt, rec.UpdatedAt)
	if rec.Status == types.StatusPendingReappraisal {
		outcome.Status = rec.Status
	}
	return outcome
}

// HasReconstructionGap reports whether the stored results imply a mass
// product but carry no price result to back it up.
func HasReconstructionGap(rec *types.AppraisalRecord) bool {
	if rec == nil {
		return false
	}
	var mass, priced bool
	for _, r := range rec.Results {
		switch r.Stage {
		case types.StageSearch:
			if p, ok := r.Search(); ok && p.Classification == types.MarketMassProduct && !r.Terminal() {
				mass = true
			}
		case types.StagePrice:
			priced = true
		}
	}
	return mass && !priced
}
