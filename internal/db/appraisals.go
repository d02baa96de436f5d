package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/appraisal-agent/internal/records"
	"github.com/jonathan/appraisal-agent/internal/types"
)

const appraisalColumns = `id, owner_id, created_at, updated_at, image_path, user_comment,
	platform, results, termination_reason, status, unique_item_details`

// SaveAppraisal inserts rec and increments the owner's appraisal count in one
// transaction. The owner row is created if it does not exist.
func (db *DB) SaveAppraisal(ctx context.Context, rec *types.AppraisalRecord) error {
	results, details, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, platform) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		rec.OwnerID, string(rec.Platform),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO appraisals (`+appraisalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.OwnerID, rec.CreatedAt, rec.UpdatedAt, rec.ImagePath, rec.UserComment,
		string(rec.Platform), results, string(rec.TerminationReason), string(rec.Status), details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert appraisal: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET total_appraisals = total_appraisals + 1, last_active_at = NOW() WHERE id = $1`,
		rec.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment appraisal count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit appraisal: %w", err)
	}
	return nil
}

// ListAppraisalsByOwner returns one page of the owner's appraisals, newest
// first, and the owner's total appraisal count.
func (db *DB) ListAppraisalsByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]types.AppraisalRecord, int, error) {
	var total int
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT total_appraisals FROM users WHERE id = $1), 0)`,
		owner,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count appraisals: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+appraisalColumns+`
		 FROM appraisals
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		owner, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list appraisals: %w", err)
	}
	defer rows.Close()

	var out []types.AppraisalRecord
	for rows.Next() {
		rec, err := scanAppraisal(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list appraisals: %w", err)
	}
	return out, total, nil
}

// GetAppraisal returns the appraisal with id, or nil if it does not exist.
func (db *DB) GetAppraisal(ctx context.Context, id uuid.UUID) (*types.AppraisalRecord, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+appraisalColumns+` FROM appraisals WHERE id = $1`,
		id,
	)
	rec, err := scanAppraisal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// UpdateAppraisal overwrites the mutable columns of an existing appraisal.
func (db *DB) UpdateAppraisal(ctx context.Context, rec *types.AppraisalRecord) error {
	results, details, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE appraisals
		 SET updated_at = $2, image_path = $3, user_comment = $4, results = $5,
		     termination_reason = $6, status = $7, unique_item_details = $8
		 WHERE id = $1`,
		rec.ID, rec.UpdatedAt, rec.ImagePath, rec.UserComment, results,
		string(rec.TerminationReason), string(rec.Status), details,
	)
	if err != nil {
		return fmt.Errorf("failed to update appraisal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appraisal not found: %s", rec.ID)
	}
	return nil
}

// encodeRecord returns the JSONB column values of rec. details is untyped
// nil when the record has no unique item details so that it is stored as
// NULL.
func encodeRecord(rec *types.AppraisalRecord) (results []byte, details any, err error) {
	if rec == nil {
		return nil, nil, errors.New("nil appraisal")
	}
	results, err = json.Marshal(rec.Results)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	if rec.UniqueItemDetails == nil {
		return results, nil, nil
	}
	raw, err := json.Marshal(rec.UniqueItemDetails)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal unique item details: %w", err)
	}
	return results, raw, nil
}

func scanAppraisal(row pgx.Row) (*types.AppraisalRecord, error) {
	var (
		rec     types.AppraisalRecord
		results []byte
		details []byte
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.CreatedAt, &rec.UpdatedAt, &rec.ImagePath, &rec.UserComment,
		&rec.Platform, &results, &rec.TerminationReason, &rec.Status, &details)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan appraisal: %w", err)
	}
	if err := decodeRecord(&rec, results, details); err != nil {
		return nil, err
	}
	return &rec, nil
}

// decodeRecord fills rec from its JSONB columns. Stage payloads and details
// that no longer decode are dropped and logged; the record builder reports
// such records as unknown.
func decodeRecord(rec *types.AppraisalRecord, results, details []byte) error {
	if err := json.Unmarshal(results, &rec.Results); err != nil {
		return fmt.Errorf("failed to decode results of appraisal %s: %w", rec.ID, err)
	}
	for _, r := range rec.Results {
		if r.Payload == nil {
			slog.Debug("stored stage result has no readable payload", "appraisal_id", rec.ID, "stage", r.Stage)
		}
	}
	if len(details) > 0 && string(details) != "null" {
		var d types.UniqueItemDetails
		if err := json.Unmarshal(details, &d); err != nil {
			slog.Debug("stored unique item details do not decode", "appraisal_id", rec.ID, "error", err)
		} else {
			rec.UniqueItemDetails = &d
		}
	}
	return nil
}

var _ records.Store = (*DB)(nil)
