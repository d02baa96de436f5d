package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/jonathan/appraisal-agent/internal/config"
	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/types"
)

// ErrNotEligible is returned when a policy refuses to re-appraise a record.
var ErrNotEligible = errors.New("appraisal is not eligible for re-appraisal")

// ReappraisalPolicy decides how a rerun of a stored appraisal is persisted.
type ReappraisalPolicy interface {
	Name() string
	// Prepare runs before the pipeline starts. It returns ErrNotEligible
	// when the policy does not accept rec.
	Prepare(ctx context.Context, rec *types.AppraisalRecord) error
	// Commit stores the rerun outcome and returns the stored record.
	Commit(ctx context.Context, original *types.AppraisalRecord, outcome *types.PipelineOutcome, meta RecordMeta) (*types.AppraisalRecord, error)
}

// NewPolicy returns the policy registered under name.
func NewPolicy(name string, store Store, clock clockwork.Clock) (ReappraisalPolicy, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	switch name {
	case config.PolicyNewRecord, "":
		return &NewRecordPolicy{store: store, clock: clock}, nil
	case config.PolicyRetryInPlace:
		return &RetryInPlacePolicy{store: store, clock: clock}, nil
	default:
		return nil, fmt.Errorf("unknown reappraisal policy %q", name)
	}
}

// NewRecordPolicy stores every rerun as a new record and leaves the original
// untouched.
type NewRecordPolicy struct {
	store Store
	clock clockwork.Clock
}

func (p *NewRecordPolicy) Name() string { return config.PolicyNewRecord }

func (p *NewRecordPolicy) Prepare(context.Context, *types.AppraisalRecord) error {
	return nil
}

func (p *NewRecordPolicy) Commit(ctx context.Context, original *types.AppraisalRecord, outcome *types.PipelineOutcome, meta RecordMeta) (*types.AppraisalRecord, error) {
	meta.OwnerID = original.OwnerID
	if meta.Platform == "" {
		meta.Platform = original.Platform
	}
	if meta.Now.IsZero() {
		meta.Now = p.clock.Now()
	}

	rec, err := ToRecord(outcome, meta)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveAppraisal(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save appraisal: %w", err)
	}
	return rec, nil
}

// RetryInPlacePolicy reruns records whose price lookup failed and overwrites
// them with the new result. The record is marked pending_reappraisal until
// the rerun is committed, so an abandoned rerun stays visible as pending.
type RetryInPlacePolicy struct {
	store Store
	clock clockwork.Clock
}

func (p *RetryInPlacePolicy) Name() string { return config.PolicyRetryInPlace }

// Eligible reports whether rec may be retried in place.
func Eligible(rec *types.AppraisalRecord) bool {
	if rec == nil {
		return false
	}
	if rec.Status == types.StatusPendingReappraisal {
		return true
	}
	return pipeline.TerminationPointOf(rec.Results) == types.PointPriceError
}

func (p *RetryInPlacePolicy) Prepare(ctx context.Context, rec *types.AppraisalRecord) error {
	if !Eligible(rec) {
		return ErrNotEligible
	}

	rec.Status = types.StatusPendingReappraisal
	rec.UpdatedAt = p.clock.Now()
	if err := p.store.UpdateAppraisal(ctx, rec); err != nil {
		return fmt.Errorf("failed to mark appraisal pending: %w", err)
	}
	return nil
}

func (p *RetryInPlacePolicy) Commit(ctx context.Context, original *types.AppraisalRecord, outcome *types.PipelineOutcome, meta RecordMeta) (*types.AppraisalRecord, error) {
	now := meta.Now
	if now.IsZero() {
		now = p.clock.Now()
	}

	// A prohibited rerun keeps no image, not even the previous one.
	imagePath := firstNonEmpty(meta.ImagePath, original.ImagePath)
	if outcome != nil && pipeline.Classify(outcome.Results) == types.ClassProhibited {
		imagePath = ""
	}

	rec, err := ToRecord(outcome, RecordMeta{
		ID:          original.ID,
		OwnerID:     original.OwnerID,
		ImagePath:   imagePath,
		UserComment: firstNonEmpty(meta.UserComment, original.UserComment),
		Platform:    original.Platform,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = now

	if err := p.store.UpdateAppraisal(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update appraisal: %w", err)
	}
	return rec, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var (
	_ ReappraisalPolicy = (*NewRecordPolicy)(nil)
	_ ReappraisalPolicy = (*RetryInPlacePolicy)(nil)
)
