package vision

import (
	"context"
	"log/slog"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/types"
)

// Backend classifies an image.
type Backend interface {
	ClassifyImage(ctx context.Context, image []byte, mimeType string) (*types.VisionPayload, error)
}

// Stage is the vision pipeline stage.
type Stage struct {
	backend Backend
	logger  *slog.Logger
}

// NewStage wraps backend as a pipeline stage.
func NewStage(backend Backend, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{backend: backend, logger: logger}
}

func (s *Stage) Name() types.StageName { return types.StageVision }

// Execute maps the image category to a routing decision: processable
// continues, prohibited and unknown terminate.
func (s *Stage) Execute(ctx context.Context, sc *pipeline.StageContext) (types.StageResult, error) {
	req := sc.Request()
	payload, err := s.backend.ClassifyImage(ctx, req.Image, req.MIMEType)
	if err != nil {
		if ctx.Err() != nil {
			return types.StageResult{}, ctx.Err()
		}
		s.logger.Error("vision backend failed", "stage", types.StageVision, "error", err)
		payload = unknown("System Error: "+err.Error(), adviceSystemFail)
	}
	if payload == nil {
		payload = unknown("System Error: empty vision result", adviceSystemFail)
	}

	switch payload.Category {
	case types.CategoryProcessable:
		return types.Continue(payload), nil
	case types.CategoryProhibited:
		return types.Terminate(types.ReasonProhibited, payload), nil
	default:
		payload.Category = types.CategoryUnknown
		return types.Terminate(types.ReasonUnidentifiable, payload), nil
	}
}

var _ pipeline.Stage = (*Stage)(nil)
