package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/appraisal-agent/internal/types"
)

// GetOrCreateUser returns the user with id, creating it on first sight, and
// records the activity.
func (db *DB) GetOrCreateUser(ctx context.Context, id uuid.UUID, platform types.Platform) (*types.User, error) {
	if platform == "" {
		platform = types.PlatformWeb
	}

	var u types.User
	err := db.pool.QueryRow(ctx,
		`INSERT INTO users (id, platform)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET last_active_at = NOW()
		 RETURNING id, platform, total_appraisals, created_at, last_active_at`,
		id, string(platform),
	).Scan(&u.ID, &u.Platform, &u.TotalAppraisals, &u.CreatedAt, &u.LastActiveAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	return &u, nil
}
