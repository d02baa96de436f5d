package types

import (
	"time"

	"github.com/google/uuid"
)

// User is the owner of stored appraisals. Identity comes from the JWT
// subject; no credentials are kept.
type User struct {
	ID              uuid.UUID `json:"id"`
	Platform        Platform  `json:"platform"`
	TotalAppraisals int       `json:"total_appraisals"`
	CreatedAt       time.Time `json:"created_at"`
	LastActiveAt    time.Time `json:"last_active_at"`
}
