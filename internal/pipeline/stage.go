package pipeline

import (
	"context"

	"github.com/jonathan/appraisal-agent/internal/types"
)

// Stage is one step of the appraisal pipeline.
//
// Execute must return exactly one StageResult for its own stage. Backend
// failures are folded into a terminal result by the stage; a non-nil error
// is reserved for cancellation of ctx.
type Stage interface {
	Name() types.StageName
	Execute(ctx context.Context, sc *StageContext) (types.StageResult, error)
}

// StageContext is the read-only view a stage gets of the run: the request,
// the results of earlier stages, and the run's emitter.
type StageContext struct {
	request *types.PipelineRequest
	prior   []types.StageResult
	emitter *Emitter
	stage   types.StageName
}

// NewStageContext builds a context for stage. It is exported for stage tests.
func NewStageContext(req *types.PipelineRequest, prior []types.StageResult, em *Emitter, stage types.StageName) *StageContext {
	cp := make([]types.StageResult, len(prior))
	copy(cp, prior)
	return &StageContext{request: req, prior: cp, emitter: em, stage: stage}
}

// Request returns the immutable request.
func (sc *StageContext) Request() *types.PipelineRequest {
	return sc.request
}

// Prior returns the result of an earlier stage.
func (sc *StageContext) Prior(stage types.StageName) (types.StageResult, bool) {
	for _, r := range sc.prior {
		if r.Stage == stage {
			return r, true
		}
	}
	return types.StageResult{}, false
}

// VisionPayload returns the vision stage's payload, if it ran.
func (sc *StageContext) VisionPayload() (*types.VisionPayload, bool) {
	r, ok := sc.Prior(types.StageVision)
	if !ok {
		return nil, false
	}
	return r.Vision()
}

// SearchPayload returns the search stage's payload, if it ran.
func (sc *StageContext) SearchPayload() (*types.SearchPayload, bool) {
	r, ok := sc.Prior(types.StageSearch)
	if !ok {
		return nil, false
	}
	return r.Search()
}

// Think emits a thinking event for the current stage. Emission errors are
// ignored; the orchestrator observes cancellation through ctx.
func (sc *StageContext) Think(ctx context.Context, message string) {
	if sc.emitter == nil {
		return
	}
	_ = sc.emitter.Thinking(ctx, sc.stage, message)
}

// Progress emits a progress event for the current stage.
func (sc *StageContext) Progress(ctx context.Context, message string, data any) {
	if sc.emitter == nil {
		return
	}
	_ = sc.emitter.Progress(ctx, sc.stage, message, data)
}

type stageContextKey struct{}

// WithStageContext returns a copy of ctx carrying sc, so that backends called
// by a stage can report progress through Think and ReportProgress.
func WithStageContext(ctx context.Context, sc *StageContext) context.Context {
	return context.WithValue(ctx, stageContextKey{}, sc)
}

// StageContextFrom returns the StageContext carried by ctx, if any.
func StageContextFrom(ctx context.Context) (*StageContext, bool) {
	sc, ok := ctx.Value(stageContextKey{}).(*StageContext)
	return sc, ok && sc != nil
}

// Think emits a thinking event through the StageContext carried by ctx. It
// does nothing outside a pipeline run.
func Think(ctx context.Context, message string) {
	if sc, ok := StageContextFrom(ctx); ok {
		sc.Think(ctx, message)
	}
}

// ReportProgress emits a progress event through the StageContext carried by
// ctx. It does nothing outside a pipeline run.
func ReportProgress(ctx context.Context, message string, data any) {
	if sc, ok := StageContextFrom(ctx); ok {
		sc.Progress(ctx, message, data)
	}
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName types.StageName
	Fn        func(ctx context.Context, sc *StageContext) (types.StageResult, error)
}

func (f StageFunc) Name() types.StageName { return f.StageName }

func (f StageFunc) Execute(ctx context.Context, sc *StageContext) (types.StageResult, error) {
	return f.Fn(ctx, sc)
}
