package types

import (
	"time"

	"github.com/google/uuid"
)

// ExpertRequestNone is the initial expert request state of a unique item.
const ExpertRequestNone = "none"

// UniqueItemDetails is attached to records whose run ended at search with a
// unique item.
type UniqueItemDetails struct {
	RequiresExpert      bool   `json:"requires_expert"`
	ExpertRequestStatus string `json:"expert_request_status"`
}

// AppraisalRecord is the durable form of a pipeline run. It stores the raw
// StageResult sequence and never the derived classification.
type AppraisalRecord struct {
	ID                uuid.UUID          `json:"id"`
	OwnerID           uuid.UUID          `json:"owner_id"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	ImagePath         string             `json:"image_path,omitempty"`
	UserComment       string             `json:"user_comment,omitempty"`
	Platform          Platform           `json:"platform"`
	Results           []StageResult      `json:"results"`
	TerminationReason TerminationReason  `json:"termination_reason,omitempty"`
	Status            OverallStatus      `json:"status"`
	UniqueItemDetails *UniqueItemDetails `json:"unique_item_details,omitempty"`
}
