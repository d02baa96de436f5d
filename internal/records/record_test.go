package records

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/types"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func visionResults() []types.StageResult {
	return []types.StageResult{
		types.Terminate(types.ReasonProhibited, &types.VisionPayload{
			Category: types.CategoryProhibited, Confidence: types.ConfidenceHigh, Reasoning: "刃物", RetryAdvice: "別の商品を撮影してください",
		}),
		types.Terminate(types.ReasonUnidentifiable, &types.VisionPayload{
			Category: types.CategoryUnknown, Confidence: types.ConfidenceLow, RetryAdvice: "明るい場所で撮影してください",
		}),
		types.Continue(&types.VisionPayload{
			Category: types.CategoryProcessable, ItemName: "Nintendo Switch Lite", VisualFeatures: []string{"ターコイズ"}, Confidence: types.ConfidenceHigh,
		}),
	}
}

func searchResults() []types.StageResult {
	return []types.StageResult{
		types.Terminate(types.ReasonUniqueItem, &types.SearchPayload{
			Classification: types.MarketUniqueItem, Confidence: types.ConfidenceMedium, Recommendation: "専門家による査定をお勧めします",
		}),
		types.Terminate(types.ReasonUniqueItem, &types.SearchPayload{
			Classification: types.MarketUniqueItem, Confidence: types.ConfidenceLow, Reasoning: "検索エラー",
		}),
		types.Continue(&types.SearchPayload{
			Classification: types.MarketMassProduct, IdentifiedProduct: "Nintendo Switch Lite ターコイズ", Confidence: types.ConfidenceHigh,
		}),
	}
}

func priceResults() []types.StageResult {
	return []types.StageResult{
		types.Terminate(types.ReasonPriced, &types.PricePayload{
			Status: types.PriceComplete, MinPrice: 12000, MaxPrice: 18000, Currency: "JPY", Confidence: types.ConfidenceMedium,
			DisplayMessage: "中古相場は¥12,000〜¥18,000です", PriceFactors: []string{"付属品の有無"},
		}),
		types.Terminate(types.ReasonPriced, &types.PricePayload{Status: types.PriceComplete, Currency: "JPY"}),
		types.Terminate(types.ReasonPriced, &types.PricePayload{Status: types.PriceComplete, MinPrice: 500, MaxPrice: 100}),
		types.Terminate(types.ReasonPriceFailed, &types.PricePayload{
			Status: types.PriceError, Currency: "JPY", Confidence: types.ConfidenceLow, Error: "pipeline timed out",
		}),
		types.Terminate(types.ReasonPriceFailed, &types.PricePayload{Status: types.PriceComplete, MinPrice: 1000, MaxPrice: 2000}),
	}
}

// allSequences enumerates every combination of the sample results that
// forms a valid run.
func allSequences() [][]types.StageResult {
	var out [][]types.StageResult
	for _, v := range visionResults() {
		seq := []types.StageResult{v}
		if pipeline.ValidateSequence(seq) == nil {
			out = append(out, seq)
			continue
		}
		for _, s := range searchResults() {
			seq := []types.StageResult{v, s}
			if pipeline.ValidateSequence(seq) == nil {
				out = append(out, seq)
				continue
			}
			for _, p := range priceResults() {
				seq := []types.StageResult{v, s, p}
				if pipeline.ValidateSequence(seq) == nil {
					out = append(out, seq)
				}
			}
		}
	}
	return out
}

func TestRoundTrip_AllReachableSequences(t *testing.T) {
	sequences := allSequences()
	require.Len(t, sequences, 2+2+5)

	clock := clockwork.NewFakeClockAt(testNow)
	for i, seq := range sequences {
		t.Run(fmt.Sprintf("sequence_%d", i), func(t *testing.T) {
			outcome := pipeline.NewOutcome(seq, clock.Now().Add(-time.Minute), clock.Now())
			rec, err := ToRecord(outcome, RecordMeta{OwnerID: uuid.New(), Now: clock.Now()})
			require.NoError(t, err)

			// Through JSON, as a store would keep it.
			data, err := json.Marshal(rec)
			require.NoError(t, err)
			var stored types.AppraisalRecord
			require.NoError(t, json.Unmarshal(data, &stored))

			replayed := ToDisplayResult(&stored)
			assert.Equal(t, outcome.Classification, replayed.Classification)
			assert.Equal(t, outcome.TerminationPoint, replayed.TerminationPoint)
			assert.Equal(t, outcome.Status, replayed.Status)
			assert.Equal(t, outcome.Results, replayed.Results)

			assert.Equal(t, BuildDisplay(outcome).Classification, BuildRecordDisplay(&stored, "").Classification)
		})
	}
}

func TestToRecord(t *testing.T) {
	owner := uuid.New()
	vision := visionResults()[2]
	search := searchResults()[2]

	tests := []struct {
		name       string
		results    []types.StageResult
		wantReason types.TerminationReason
		wantStatus types.OverallStatus
		wantUnique bool
	}{
		{"prohibited", visionResults()[:1], types.ReasonProhibited, types.StatusIncomplete, false},
		{"unknown", visionResults()[1:2], types.ReasonUnidentifiable, types.StatusIncomplete, false},
		{"unique", []types.StageResult{vision, searchResults()[0]}, types.ReasonUniqueItem, types.StatusCompleted, true},
		{"priced", []types.StageResult{vision, search, priceResults()[0]}, types.ReasonPriced, types.StatusCompleted, false},
		{"price failed", []types.StageResult{vision, search, priceResults()[3]}, types.ReasonPriceFailed, types.StatusError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := pipeline.NewOutcome(tt.results, testNow.Add(-time.Second), testNow)
			rec, err := ToRecord(outcome, RecordMeta{
				OwnerID:     owner,
				ImagePath:   "appraisals/x/y.jpg",
				UserComment: "箱あり",
			})
			require.NoError(t, err)

			assert.NotEqual(t, uuid.Nil, rec.ID)
			assert.Equal(t, owner, rec.OwnerID)
			assert.Equal(t, testNow, rec.CreatedAt)
			assert.Equal(t, testNow, rec.UpdatedAt)
			assert.Equal(t, types.PlatformWeb, rec.Platform)
			assert.Equal(t, "appraisals/x/y.jpg", rec.ImagePath)
			assert.Equal(t, "箱あり", rec.UserComment)
			assert.Equal(t, tt.wantReason, rec.TerminationReason)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.results, rec.Results)
			if tt.wantUnique {
				require.NotNil(t, rec.UniqueItemDetails)
				assert.True(t, rec.UniqueItemDetails.RequiresExpert)
				assert.Equal(t, types.ExpertRequestNone, rec.UniqueItemDetails.ExpertRequestStatus)
			} else {
				assert.Nil(t, rec.UniqueItemDetails)
			}
		})
	}
}

func TestToRecord_StoresNoClassification(t *testing.T) {
	outcome := pipeline.NewOutcome(visionResults()[:1], testNow, testNow)
	rec, err := ToRecord(outcome, RecordMeta{})
	require.NoError(t, err)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.NotContains(t, fields, "classification")
	assert.Equal(t, "prohibited", fields["termination_reason"])
}

func TestToRecord_KeepsGivenID(t *testing.T) {
	id := uuid.New()
	outcome := pipeline.NewOutcome(visionResults()[:1], testNow, testNow)
	rec, err := ToRecord(outcome, RecordMeta{ID: id, Platform: types.PlatformIOS})
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, types.PlatformIOS, rec.Platform)
}

func TestToRecord_Errors(t *testing.T) {
	_, err := ToRecord(nil, RecordMeta{})
	assert.ErrorIs(t, err, ErrEmptyOutcome)

	_, err = ToRecord(&types.PipelineOutcome{}, RecordMeta{})
	assert.ErrorIs(t, err, ErrEmptyOutcome)

	// Ends without a terminal decision.
	truncated := pipeline.NewOutcome([]types.StageResult{visionResults()[2]}, testNow, testNow)
	_, err = ToRecord(truncated, RecordMeta{})
	assert.ErrorContains(t, err, "failed to build record")
}

func TestToDisplayResult_Gaps(t *testing.T) {
	vision := visionResults()[2]
	search := searchResults()[2]

	tests := []struct {
		name    string
		rec     *types.AppraisalRecord
		wantGap bool
	}{
		{"nil record", nil, false},
		{"no results", &types.AppraisalRecord{}, false},
		{"mass product without price", &types.AppraisalRecord{Results: []types.StageResult{vision, search}}, true},
		{"unknown stage payload", &types.AppraisalRecord{Results: []types.StageResult{{Stage: "appraise", Decision: types.DecisionTerminate}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outcome *types.PipelineOutcome
			assert.NotPanics(t, func() { outcome = ToDisplayResult(tt.rec) })
			assert.Equal(t, types.ClassUnknown, outcome.Classification)
			assert.Equal(t, tt.wantGap, HasReconstructionGap(tt.rec))
		})
	}
}

func TestToDisplayResult_KeepsPendingStatus(t *testing.T) {
	outcome := pipeline.NewOutcome([]types.StageResult{visionResults()[2], searchResults()[2], priceResults()[3]}, testNow, testNow)
	rec, err := ToRecord(outcome, RecordMeta{})
	require.NoError(t, err)

	rec.Status = types.StatusPendingReappraisal
	replayed := ToDisplayResult(rec)
	assert.Equal(t, types.StatusPendingReappraisal, replayed.Status)
	assert.Equal(t, types.PointPriceError, replayed.TerminationPoint)
}
