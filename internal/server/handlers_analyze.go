package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/records"
	"github.com/jonathan/appraisal-agent/internal/server/middleware"
	"github.com/jonathan/appraisal-agent/internal/storage"
	"github.com/jonathan/appraisal-agent/internal/types"
)

// maxBodyBytes admits a base64 image of MaxImageBytes plus the other fields.
const maxBodyBytes = (types.MaxImageBytes+2)/3*4 + 64<<10

// AnalyzeRequest is the body of analyze and reappraise requests.
type AnalyzeRequest struct {
	ImageBase64 string         `json:"image_base64"`
	UserComment string         `json:"user_comment,omitempty"`
	Platform    types.Platform `json:"platform,omitempty"`
}

// decodePipelineRequest reads and validates the request body. Every error
// wraps types.ErrMalformedRequest.
func (s *Server) decodePipelineRequest(w http.ResponseWriter, r *http.Request, owner uuid.UUID) (*types.PipelineRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &types.ValidationError{Field: "image_base64", Message: "image exceeds 10 MiB"}
		}
		return nil, &types.ValidationError{Field: "body", Message: "invalid JSON"}
	}

	image, err := types.DecodeImageBase64(body.ImageBase64)
	if err != nil {
		return nil, err
	}
	return types.NewPipelineRequest(image, body.UserComment, body.Platform, owner)
}

// handleAnalyzeStream runs an appraisal and streams its progress. Anonymous
// callers get the same stream but nothing is stored for them.
func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	owner, _ := middleware.GetUserID(r)

	req, err := s.decodePipelineRequest(w, r, owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.streamRun(w, r, req, s.persistNew)
}

// streamRun starts the pipeline and relays its events as SSE frames until
// the terminal event, then writes the close sentinel. If the client goes
// away the run is cancelled and nothing more is written.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, req *types.PipelineRequest, finalize pipeline.Finalizer) {
	logger := s.requestLogger(r)

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, wait := s.orchestrator.Start(ctx, req, finalize)

	terminal := false
	for ev := range events {
		if err := sse.WriteEvent(ev); err != nil {
			if isDisconnect(err) {
				logger.Info("client disconnected, cancelling appraisal", "error", err)
			} else {
				logger.Warn("failed to write event, cancelling appraisal", "error", err)
			}
			cancel()
			for range events {
			}
			break
		}
		terminal = ev.Kind.Terminal()
	}

	_, err = wait()
	if ctx.Err() != nil {
		logger.Info("stream closed before completion", "error", ctx.Err())
		return
	}
	if err != nil && !errors.Is(err, pipeline.ErrPipelineTimeout) {
		logger.Error("appraisal failed", "error", err)
	}

	if !terminal {
		if err := sse.WriteError("appraisal ended unexpectedly", s.clock.Now()); err != nil {
			return
		}
	}
	if err := sse.WriteDone(); err != nil {
		logger.Info("failed to write close sentinel", "error", err)
	}
}

// persistNew stores the outcome of an authenticated run as a new record.
// The display result is returned either way; it carries the appraisal ID
// only when the record was saved.
func (s *Server) persistNew(ctx context.Context, req *types.PipelineRequest, outcome *types.PipelineOutcome) any {
	display := records.BuildDisplay(outcome)
	if req.Anonymous() {
		return display
	}
	logger := s.logger.With("owner_id", req.OwnerID)

	if _, err := s.records.GetOrCreateUser(ctx, req.OwnerID, req.Platform); err != nil {
		logger.Error("failed to load user", "error", err)
		PersistFailuresTotal.WithLabelValues("user").Inc()
		return display
	}

	id := uuid.New()
	imagePath := s.storeImage(ctx, logger, req, outcome, storage.AppraisalKey(req.OwnerID, id, req.MIMEType))

	rec, err := records.ToRecord(outcome, records.RecordMeta{
		ID:          id,
		OwnerID:     req.OwnerID,
		ImagePath:   imagePath,
		UserComment: req.Comment,
		Platform:    req.Platform,
		Now:         s.clock.Now(),
	})
	if err == nil {
		err = s.records.SaveAppraisal(ctx, rec)
	}
	if err != nil {
		logger.Error("failed to save appraisal", "appraisal_id", id, "error", err)
		PersistFailuresTotal.WithLabelValues("record").Inc()
		s.discardImage(ctx, logger, imagePath)
		return display
	}

	logger.Info("appraisal saved", "appraisal_id", rec.ID, "status", rec.Status)
	return records.BuildRecordDisplay(rec, s.imageURL(ctx, rec.ImagePath))
}

// storeImage uploads the request image under key and returns the key, or ""
// when the image is not kept.
func (s *Server) storeImage(ctx context.Context, logger *slog.Logger, req *types.PipelineRequest, outcome *types.PipelineOutcome, key string) string {
	if outcome.Classification == types.ClassProhibited {
		return ""
	}

	if err := s.images.PutImage(ctx, key, req.Image, req.MIMEType); err != nil {
		logger.Warn("failed to store image, saving appraisal without it", "key", key, "error", err)
		PersistFailuresTotal.WithLabelValues("image").Inc()
		return ""
	}
	return key
}

func (s *Server) discardImage(ctx context.Context, logger *slog.Logger, key string) {
	if key == "" {
		return
	}
	if err := s.images.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warn("failed to delete orphaned image", "key", key, "error", err)
	}
}
