package records

import (
	"context"

	"github.com/google/uuid"

	"github.com/jonathan/appraisal-agent/internal/types"
)

// Store persists appraisal records and their owners. Lookups of missing
// rows return nil without an error.
type Store interface {
	// SaveAppraisal inserts rec and increments the owner's appraisal count
	// in the same transaction.
	SaveAppraisal(ctx context.Context, rec *types.AppraisalRecord) error
	// ListAppraisalsByOwner returns one page of the owner's records, newest
	// first, together with the owner's total appraisal count.
	ListAppraisalsByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]types.AppraisalRecord, int, error)
	GetAppraisal(ctx context.Context, id uuid.UUID) (*types.AppraisalRecord, error)
	// UpdateAppraisal replaces the results, status and timestamps of an
	// existing record. It does not touch the owner's count.
	UpdateAppraisal(ctx context.Context, rec *types.AppraisalRecord) error
	GetOrCreateUser(ctx context.Context, id uuid.UUID, platform types.Platform) (*types.User, error)
}
