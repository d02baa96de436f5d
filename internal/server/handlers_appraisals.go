package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/appraisal-agent/internal/config"
	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/records"
	"github.com/jonathan/appraisal-agent/internal/server/middleware"
	"github.com/jonathan/appraisal-agent/internal/storage"
	"github.com/jonathan/appraisal-agent/internal/types"
)

const defaultHistoryLimit = 20

var validate = validator.New()

// HistoryQuery is the paging of a history request.
type HistoryQuery struct {
	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`
}

// HistoryResponse is one page of a user's appraisals.
type HistoryResponse struct {
	Appraisals []records.DisplayResult `json:"appraisals"`
	Total      int                     `json:"total"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
}

// ParseHistoryQuery reads limit and offset, applying defaults.
func ParseHistoryQuery(q url.Values) (HistoryQuery, error) {
	hq := HistoryQuery{Limit: defaultHistoryLimit}

	params := []struct {
		name string
		dst  *int
	}{
		{"limit", &hq.Limit},
		{"offset", &hq.Offset},
	}
	for _, p := range params {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return hq, &types.ValidationError{Field: p.name, Message: "must be an integer"}
		}
		*p.dst = n
	}

	if err := validate.Struct(hq); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			field := strings.ToLower(fieldErrs[0].Field())
			if field == "limit" {
				return hq, &types.ValidationError{Field: field, Message: "must be between 1 and 100"}
			}
			return hq, &types.ValidationError{Field: field, Message: "must not be negative"}
		}
		return hq, &types.ValidationError{Field: "query", Message: err.Error()}
	}
	return hq, nil
}

// handleListAppraisals returns the caller's appraisals, newest first.
func (s *Server) handleListAppraisals(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.fail(w, r, ErrUnauthorized)
		return
	}

	q, err := ParseHistoryQuery(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	recs, total, err := s.records.ListAppraisalsByOwner(r.Context(), owner, q.Limit, q.Offset)
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to list appraisals: %w", err))
		return
	}

	resp := HistoryResponse{
		Appraisals: make([]records.DisplayResult, 0, len(recs)),
		Total:      total,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	for i := range recs {
		rec := &recs[i]
		resp.Appraisals = append(resp.Appraisals, records.BuildRecordDisplay(rec, s.imageURL(r.Context(), rec.ImagePath)))
	}

	s.jsonResponse(w, http.StatusOK, resp)
}

// handleGetAppraisal returns one of the caller's appraisals.
func (s *Server) handleGetAppraisal(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.fail(w, r, ErrUnauthorized)
		return
	}

	rec, err := s.ownedAppraisal(r, owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, records.BuildRecordDisplay(rec, s.imageURL(r.Context(), rec.ImagePath)))
}

// handleReappraise reruns the pipeline for a stored appraisal. The client
// sends the image again in the same body as an analyze request; the
// configured policy decides whether the result replaces the record.
func (s *Server) handleReappraise(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.fail(w, r, ErrUnauthorized)
		return
	}

	original, err := s.ownedAppraisal(r, owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	req, err := s.decodePipelineRequest(w, r, owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.policy.Prepare(r.Context(), original); err != nil {
		s.fail(w, r, err)
		return
	}

	s.requestLogger(r).Info("reappraisal started", "appraisal_id", original.ID, "policy", s.policy.Name())
	s.streamRun(w, r, req, s.persistRerun(original))
}

// persistRerun commits a rerun of original through the configured policy.
// An in-place rerun uploads its image under a fresh revision key; the
// previous image is removed only once the record no longer points at it.
func (s *Server) persistRerun(original *types.AppraisalRecord) pipeline.Finalizer {
	return func(ctx context.Context, req *types.PipelineRequest, outcome *types.PipelineOutcome) any {
		logger := s.logger.With("owner_id", req.OwnerID, "original_id", original.ID, "policy", s.policy.Name())

		id := uuid.New()
		key := storage.AppraisalKey(req.OwnerID, id, req.MIMEType)
		inPlace := s.policy.Name() == config.PolicyRetryInPlace
		if inPlace {
			id = original.ID
			key = storage.RevisionKey(req.OwnerID, original.ID, uuid.New(), req.MIMEType)
		}
		imagePath := s.storeImage(ctx, logger, req, outcome, key)

		rec, err := s.policy.Commit(ctx, original, outcome, records.RecordMeta{
			ID:          id,
			ImagePath:   imagePath,
			UserComment: req.Comment,
			Platform:    req.Platform,
			Now:         s.clock.Now(),
		})
		if err != nil {
			logger.Error("failed to commit reappraisal", "error", err)
			PersistFailuresTotal.WithLabelValues("record").Inc()
			s.discardImage(ctx, logger, imagePath)
			return records.BuildDisplay(outcome)
		}

		if inPlace && original.ImagePath != rec.ImagePath {
			s.discardImage(ctx, logger, original.ImagePath)
		}

		logger.Info("reappraisal saved", "appraisal_id", rec.ID, "status", rec.Status)
		return records.BuildRecordDisplay(rec, s.imageURL(ctx, rec.ImagePath))
	}
}

// ownedAppraisal loads the appraisal named in the path. Records of other
// users are reported as not found.
func (s *Server) ownedAppraisal(r *http.Request, owner uuid.UUID) (*types.AppraisalRecord, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, &types.ValidationError{Field: "id", Message: "invalid appraisal ID"}
	}

	rec, err := s.records.GetAppraisal(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load appraisal: %w", err)
	}
	if rec == nil || rec.OwnerID != owner {
		return nil, ErrNotFound
	}
	return rec, nil
}
