// Package types provides type definitions for structured data used throughout the appraisal pipeline.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"fmt"
)

// StageName identifies one step of the appraisal pipeline.
type StageName string

const (
	StageVision StageName = "vision"
	StageSearch StageName = "search"
	StagePrice  StageName = "price"
)

// StageOrder is the fixed execution order. A stage is only ever followed by
// the next entry or by termination.
var StageOrder = []StageName{StageVision, StageSearch, StagePrice}

// Index returns the position of the stage in StageOrder, or -1.
func (s StageName) Index() int {
	for i, name := range StageOrder {
		if name == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s StageName) Valid() bool {
	return s.Index() >= 0
}

// Decision is the routing outcome of a single stage.
type Decision string

const (
	DecisionContinue  Decision = "continue"
	DecisionTerminate Decision = "terminate"
)

// TerminationReason explains why a stage ended the run.
type TerminationReason string

const (
	ReasonProhibited     TerminationReason = "prohibited"
	ReasonUnidentifiable TerminationReason = "unidentifiable"
	ReasonUniqueItem     TerminationReason = "unique_item"
	ReasonPriced         TerminationReason = "priced"
	ReasonPriceFailed    TerminationReason = "price_failed"
)

// stageReasons lists the termination reasons each stage may produce.
var stageReasons = map[StageName][]TerminationReason{
	StageVision: {ReasonProhibited, ReasonUnidentifiable},
	StageSearch: {ReasonUniqueItem},
	StagePrice:  {ReasonPriced, ReasonPriceFailed},
}

// AllowsReason reports whether the stage may terminate with reason.
func (s StageName) AllowsReason(reason TerminationReason) bool {
	for _, r := range stageReasons[s] {
		if r == reason {
			return true
		}
	}
	return false
}

// FailureReason is the reason a stage terminates with when its backend call
// fails or the run is cut short while it is in flight.
func (s StageName) FailureReason() TerminationReason {
	switch s {
	case StageVision:
		return ReasonUnidentifiable
	case StageSearch:
		return ReasonUniqueItem
	default:
		return ReasonPriceFailed
	}
}

// StageResult is the outcome of exactly one stage execution.
// TerminationReason is set if and only if Decision is DecisionTerminate.
type StageResult struct {
	Stage             StageName         `json:"stage"`
	Decision          Decision          `json:"decision"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	Payload           Payload           `json:"-"`
}

// Continue builds a non-terminal result for the payload's stage.
func Continue(p Payload) StageResult {
	return StageResult{
		Stage:    p.Stage(),
		Decision: DecisionContinue,
		Payload:  p,
	}
}

// Terminate builds a terminal result for the payload's stage.
func Terminate(reason TerminationReason, p Payload) StageResult {
	return StageResult{
		Stage:             p.Stage(),
		Decision:          DecisionTerminate,
		TerminationReason: reason,
		Payload:           p,
	}
}

// Terminal reports whether the result ends the run.
func (r StageResult) Terminal() bool {
	return r.Decision == DecisionTerminate
}

// Validate checks the structural invariants of a result: a known stage, a
// payload variant matching the stage, and a reason present only on
// termination and allowed for the stage.
func (r StageResult) Validate() error {
	if !r.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", r.Stage)
	}
	if r.Payload == nil {
		return fmt.Errorf("stage %s: missing payload", r.Stage)
	}
	if r.Payload.Stage() != r.Stage {
		return fmt.Errorf("stage %s: payload belongs to stage %s", r.Stage, r.Payload.Stage())
	}

	switch r.Decision {
	case DecisionContinue:
		if r.TerminationReason != "" {
			return fmt.Errorf("stage %s: termination reason %q on continue", r.Stage, r.TerminationReason)
		}
		if r.Stage == StagePrice {
			return fmt.Errorf("stage %s: must terminate", r.Stage)
		}
	case DecisionTerminate:
		if !r.Stage.AllowsReason(r.TerminationReason) {
			return fmt.Errorf("stage %s: invalid termination reason %q", r.Stage, r.TerminationReason)
		}
	default:
		return fmt.Errorf("stage %s: unknown decision %q", r.Stage, r.Decision)
	}
	return nil
}

// Vision returns the vision payload if r carries one.
func (r StageResult) Vision() (*VisionPayload, bool) {
	p, ok := r.Payload.(*VisionPayload)
	return p, ok && p != nil
}

// Search returns the search payload if r carries one.
func (r StageResult) Search() (*SearchPayload, bool) {
	p, ok := r.Payload.(*SearchPayload)
	return p, ok && p != nil
}

// Price returns the price payload if r carries one.
func (r StageResult) Price() (*PricePayload, bool) {
	p, ok := r.Payload.(*PricePayload)
	return p, ok && p != nil
}

type stageResultJSON struct {
	Stage             StageName         `json:"stage"`
	Decision          Decision          `json:"decision"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	Payload           json.RawMessage   `json:"payload,omitempty"`
}

// MarshalJSON encodes the payload alongside the stage discriminator.
func (r StageResult) MarshalJSON() ([]byte, error) {
	out := stageResultJSON{
		Stage:             r.Stage,
		Decision:          r.Decision,
		TerminationReason: r.TerminationReason,
	}
	if r.Payload != nil {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", r.Stage, err)
		}
		out.Payload = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON selects the payload variant from the stage discriminator.
// Unknown stages and payloads that do not decode keep a nil payload so that
// readers can treat them as gaps.
func (r *StageResult) UnmarshalJSON(data []byte) error {
	var in stageResultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	r.Stage = in.Stage
	r.Decision = in.Decision
	r.TerminationReason = in.TerminationReason
	r.Payload = nil

	if len(in.Payload) == 0 || string(in.Payload) == "null" {
		return nil
	}

	var p Payload
	switch in.Stage {
	case StageVision:
		p = &VisionPayload{}
	case StageSearch:
		p = &SearchPayload{}
	case StagePrice:
		p = &PricePayload{}
	default:
		return nil
	}
	if err := json.Unmarshal(in.Payload, p); err != nil {
		return nil
	}
	r.Payload = p
	return nil
}
