// Package pipeline runs the vision, search and price stages for one appraisal
// request and streams progress events while it does so.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jonathan/appraisal-agent/internal/types"
)

// DefaultTimeout is the per-run wall-clock cap.
const DefaultTimeout = 120 * time.Second

// ErrPipelineTimeout is returned when a run exceeds its wall-clock cap.
var ErrPipelineTimeout = errors.New("pipeline timed out")

// Messages streamed with error events.
const (
	msgTimeout = "査定処理がタイムアウトしました"
	msgFailure = "査定処理中にエラーが発生しました"
)

// stageMessages are the stage_start messages shown to the caller.
var stageMessages = map[types.StageName]string{
	types.StageVision: "画像を分析しています",
	types.StageSearch: "商品を検索しています",
	types.StagePrice:  "価格を調査しています",
}

// Finalizer is called once a run reaches a terminal decision and before the
// complete event is sent. Its return value becomes the complete event's data.
// It receives the caller's context, not the run's, so persistence is not cut
// short by the run timeout.
type Finalizer func(ctx context.Context, req *types.PipelineRequest, outcome *types.PipelineOutcome) any

// Config holds orchestrator settings.
type Config struct {
	Timeout time.Duration
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Orchestrator runs a fixed, ordered list of stages.
type Orchestrator struct {
	stages  []Stage
	timeout time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
}

// New creates an orchestrator. stages must be exactly vision, search and
// price, in that order.
func New(stages []Stage, cfg Config) (*Orchestrator, error) {
	if len(stages) != len(types.StageOrder) {
		return nil, fmt.Errorf("expected %d stages, got %d", len(types.StageOrder), len(stages))
	}
	for i, s := range stages {
		if s == nil || s.Name() != types.StageOrder[i] {
			return nil, fmt.Errorf("stage %d must be %s", i, types.StageOrder[i])
		}
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		stages:  stages,
		timeout: cfg.Timeout,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}, nil
}

// Clock returns the orchestrator's clock.
func (o *Orchestrator) Clock() clockwork.Clock {
	return o.clock
}

// Start runs the pipeline in a new goroutine. The returned channel yields
// the run's events and is closed when the run ends; wait blocks until then
// and returns the result of Run.
func (o *Orchestrator) Start(ctx context.Context, req *types.PipelineRequest, finalize Finalizer) (<-chan ProgressEvent, func() (*types.PipelineOutcome, error)) {
	em := NewEmitter(o.clock)

	var (
		outcome *types.PipelineOutcome
		err     error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		outcome, err = o.Run(ctx, req, em, finalize)
	}()

	wait := func() (*types.PipelineOutcome, error) {
		<-done
		return outcome, err
	}
	return em.Events(), wait
}

// Run executes the stages in order, stopping at the first terminal result,
// and closes em before returning.
//
// On success the last event is complete and the outcome is returned. If the
// run times out, the in-flight stage gets a synthesized failure result, an
// error event is sent, and the outcome is returned with ErrPipelineTimeout.
// If ctx is cancelled (the consumer went away) no further events are sent
// and ctx.Err() is returned without an outcome.
func (o *Orchestrator) Run(ctx context.Context, req *types.PipelineRequest, em *Emitter, finalize Finalizer) (*types.PipelineOutcome, error) {
	defer em.Close()

	if req == nil {
		return nil, &types.ValidationError{Field: "request", Message: "request is required"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	RunsInflight.Inc()
	defer RunsInflight.Dec()

	started := o.clock.Now()
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	logger := o.logger.With("owner", req.OwnerID.String())
	results := make([]types.StageResult, 0, len(o.stages))

	for _, stage := range o.stages {
		name := stage.Name()

		if err := em.Emit(runCtx, ProgressEvent{Kind: EventStageStart, Stage: name, Message: stageMessages[name]}); err != nil {
			return o.abort(ctx, em, logger, name, results, started)
		}

		stageStart := o.clock.Now()
		sc := NewStageContext(req, results, em, name)
		res, err := o.execute(runCtx, stage, sc)
		StageDuration.WithLabelValues(string(name)).Observe(o.clock.Since(stageStart).Seconds())

		if err != nil && runCtx.Err() != nil {
			return o.abort(ctx, em, logger, name, results, started)
		}
		if err != nil {
			logger.Warn("stage failed", "stage", name, "error", err)
			res = failureResult(name, err.Error())
		} else if verr := checkResult(name, res); verr != nil {
			logger.Warn("stage returned invalid result", "stage", name, "error", verr)
			res = failureResult(name, verr.Error())
		}

		StageResultsTotal.WithLabelValues(string(name), string(res.Decision), string(res.TerminationReason)).Inc()
		logger.Info("stage finished", "stage", name, "decision", res.Decision, "reason", res.TerminationReason)

		if err := em.Emit(runCtx, ProgressEvent{
			Kind:    EventStageComplete,
			Stage:   name,
			Message: summarize(res),
			Data:    res,
		}); err != nil {
			// The stage finished; keep its result before deciding how to stop.
			results = append(results, res)
			if res.Terminal() {
				return o.abortAfterTerminal(ctx, em, logger, results, started)
			}
			return o.abort(ctx, em, logger, nextStage(name), results, started)
		}

		results = append(results, res)
		if res.Terminal() {
			break
		}
	}

	return o.complete(ctx, req, em, logger, results, started, finalize)
}

func (o *Orchestrator) complete(ctx context.Context, req *types.PipelineRequest, em *Emitter, logger *slog.Logger, results []types.StageResult, started time.Time, finalize Finalizer) (*types.PipelineOutcome, error) {
	if err := ctx.Err(); err != nil {
		logger.Info("consumer went away before completion", "error", err)
		RunsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	outcome := NewOutcome(results, started, o.clock.Now())

	var data any = outcome
	if finalize != nil {
		data = finalize(ctx, req, outcome)
	}

	if err := em.finish(ctx, ProgressEvent{Kind: EventComplete, Message: string(outcome.Classification), Data: data}); err != nil {
		logger.Info("consumer went away before complete event", "error", err)
		RunsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	RunsTotal.WithLabelValues(string(outcome.Classification)).Inc()
	logger.Info("pipeline complete",
		"classification", outcome.Classification,
		"termination_point", outcome.TerminationPoint,
		"stages", len(outcome.Results),
		"duration", outcome.FinishedAt.Sub(outcome.StartedAt))
	return outcome, nil
}

// abort handles a run interrupted while stage was pending or in flight.
func (o *Orchestrator) abort(ctx context.Context, em *Emitter, logger *slog.Logger, stage types.StageName, results []types.StageResult, started time.Time) (*types.PipelineOutcome, error) {
	if err := ctx.Err(); err != nil {
		logger.Info("pipeline cancelled", "stage", stage, "error", err)
		RunsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	// The run deadline expired; the partial work of stage is discarded.
	results = append(results, failureResult(stage, ErrPipelineTimeout.Error()))
	return o.timedOut(ctx, em, logger, stage, results, started)
}

// abortAfterTerminal handles a timeout that hit after the last stage had
// already produced its terminal result.
func (o *Orchestrator) abortAfterTerminal(ctx context.Context, em *Emitter, logger *slog.Logger, results []types.StageResult, started time.Time) (*types.PipelineOutcome, error) {
	if err := ctx.Err(); err != nil {
		logger.Info("pipeline cancelled", "error", err)
		RunsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}
	return o.timedOut(ctx, em, logger, results[len(results)-1].Stage, results, started)
}

func (o *Orchestrator) timedOut(ctx context.Context, em *Emitter, logger *slog.Logger, stage types.StageName, results []types.StageResult, started time.Time) (*types.PipelineOutcome, error) {
	outcome := NewOutcome(results, started, o.clock.Now())
	logger.Warn("pipeline timed out", "stage", stage, "timeout", o.timeout)
	RunsTotal.WithLabelValues("timeout").Inc()

	if err := em.finish(ctx, ProgressEvent{Kind: EventError, Stage: stage, Message: msgTimeout}); err != nil {
		logger.Info("consumer went away before error event", "error", err)
	}
	return outcome, ErrPipelineTimeout
}

// execute runs one stage and returns when it finishes or ctx is done,
// whichever comes first. A panicking stage is reported as an error.
func (o *Orchestrator) execute(ctx context.Context, stage Stage, sc *StageContext) (types.StageResult, error) {
	type reply struct {
		res types.StageResult
		err error
	}
	ch := make(chan reply, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("stage %s panicked: %v", stage.Name(), r)}
			}
		}()
		res, err := stage.Execute(WithStageContext(ctx, sc), sc)
		ch <- reply{res: res, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && ctx.Err() != nil {
			// Finished at the deadline; the result is discarded.
			return types.StageResult{}, ctx.Err()
		}
		return r.res, r.err
	case <-ctx.Done():
		return types.StageResult{}, ctx.Err()
	}
}

// checkResult verifies that a stage returned a valid result for itself.
func checkResult(stage types.StageName, res types.StageResult) error {
	if res.Stage != stage {
		return fmt.Errorf("stage %s returned result for %q", stage, res.Stage)
	}
	return res.Validate()
}

// failureResult is the terminal result used when a stage cannot produce one.
func failureResult(stage types.StageName, cause string) types.StageResult {
	reason := stage.FailureReason()
	switch stage {
	case types.StageVision:
		return types.Terminate(reason, &types.VisionPayload{
			Category:    types.CategoryUnknown,
			Confidence:  types.ConfidenceLow,
			Reasoning:   cause,
			RetryAdvice: "時間をおいてもう一度お試しください",
		})
	case types.StageSearch:
		return types.Terminate(reason, &types.SearchPayload{
			Classification: types.MarketUniqueItem,
			Confidence:     types.ConfidenceLow,
			Reasoning:      cause,
			Recommendation: "専門家による査定をお勧めします",
		})
	default:
		return types.Terminate(reason, &types.PricePayload{
			Status:     types.PriceError,
			Currency:   types.DefaultCurrency,
			Confidence: types.ConfidenceLow,
			Error:      cause,
		})
	}
}

func nextStage(stage types.StageName) types.StageName {
	i := stage.Index()
	if i < 0 || i+1 >= len(types.StageOrder) {
		return stage
	}
	return types.StageOrder[i+1]
}

func summarize(res types.StageResult) string {
	switch p := res.Payload.(type) {
	case *types.VisionPayload:
		switch p.Category {
		case types.CategoryProhibited:
			return "査定対象外の画像です"
		case types.CategoryUnknown:
			return "商品を特定できませんでした"
		default:
			return fmt.Sprintf("「%s」を識別しました", p.ItemName)
		}
	case *types.SearchPayload:
		if p.Classification == types.MarketUniqueItem {
			return "一点物と判定しました"
		}
		return fmt.Sprintf("既製品「%s」と判定しました", p.IdentifiedProduct)
	case *types.PricePayload:
		if p.Usable() {
			return fmt.Sprintf("%d〜%d %s", p.MinPrice, p.MaxPrice, p.Currency)
		}
		return "価格情報を取得できませんでした"
	}
	return string(res.Decision)
}
