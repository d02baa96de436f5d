package types

import "time"

// Classification is the caller-facing category of a run. It is always derived
// from a StageResult sequence and never stored.
type Classification string

const (
	ClassMassProduct Classification = "mass_product"
	ClassUniqueItem  Classification = "unique_item"
	ClassUnknown     Classification = "unknown"
	ClassProhibited  Classification = "prohibited"
)

// TerminationPoint names the stage and reason that ended a run.
type TerminationPoint string

const (
	PointVisionProhibited TerminationPoint = "vision_prohibited"
	PointVisionUnknown    TerminationPoint = "vision_unknown"
	PointSearchUnique     TerminationPoint = "search_unique"
	PointPriceComplete    TerminationPoint = "price_complete"
	PointPriceError       TerminationPoint = "price_error"
)

// OverallStatus summarizes a stored appraisal.
type OverallStatus string

const (
	StatusCompleted          OverallStatus = "completed"
	StatusIncomplete         OverallStatus = "incomplete"
	StatusError              OverallStatus = "error"
	StatusPendingReappraisal OverallStatus = "pending_reappraisal"
)

// PipelineOutcome aggregates the results of one run. Classification,
// TerminationPoint and Status are derived from Results by the pipeline
// package; construct outcomes with pipeline.NewOutcome.
type PipelineOutcome struct {
	Results          []StageResult    `json:"results"`
	Classification   Classification   `json:"classification"`
	TerminationPoint TerminationPoint `json:"termination_point"`
	Status           OverallStatus    `json:"status"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
}

// Result returns the result for stage, if that stage ran.
func (o *PipelineOutcome) Result(stage StageName) (StageResult, bool) {
	if o == nil {
		return StageResult{}, false
	}
	for _, r := range o.Results {
		if r.Stage == stage {
			return r, true
		}
	}
	return StageResult{}, false
}

// Last returns the final result of the run.
func (o *PipelineOutcome) Last() (StageResult, bool) {
	if o == nil || len(o.Results) == 0 {
		return StageResult{}, false
	}
	return o.Results[len(o.Results)-1], true
}

// VisionPayload returns the vision payload, if present.
func (o *PipelineOutcome) VisionPayload() *VisionPayload {
	if r, ok := o.Result(StageVision); ok {
		if p, ok := r.Vision(); ok {
			return p
		}
	}
	return nil
}

// SearchPayload returns the search payload, if present.
func (o *PipelineOutcome) SearchPayload() *SearchPayload {
	if r, ok := o.Result(StageSearch); ok {
		if p, ok := r.Search(); ok {
			return p
		}
	}
	return nil
}

// PricePayload returns the price payload, if present.
func (o *PipelineOutcome) PricePayload() *PricePayload {
	if r, ok := o.Result(StagePrice); ok {
		if p, ok := r.Price(); ok {
			return p
		}
	}
	return nil
}
