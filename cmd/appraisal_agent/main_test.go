package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/appraisal-agent/internal/config"
	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/server"
	"github.com/jonathan/appraisal-agent/internal/types"
)

var testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

func stage(name types.StageName, res types.StageResult) pipeline.Stage {
	return pipeline.StageFunc{StageName: name, Fn: func(context.Context, *pipeline.StageContext) (types.StageResult, error) {
		return res, nil
	}}
}

func pricedStages() []pipeline.Stage {
	return []pipeline.Stage{
		stage(types.StageVision, types.Continue(&types.VisionPayload{
			Category:   types.CategoryProcessable,
			ItemName:   "腕時計",
			Confidence: types.ConfidenceHigh,
		})),
		stage(types.StageSearch, types.Continue(&types.SearchPayload{
			Classification:    types.MarketMassProduct,
			IdentifiedProduct: "SEIKO 5 SNK809",
			Confidence:        types.ConfidenceMedium,
		})),
		stage(types.StagePrice, types.Terminate(types.ReasonPriced, &types.PricePayload{
			Status:     types.PriceComplete,
			MinPrice:   8000,
			MaxPrice:   12000,
			Currency:   "JPY",
			Confidence: types.ConfidenceMedium,
		})),
	}
}

func newOrchestrator(t *testing.T, stages []pipeline.Stage) *pipeline.Orchestrator {
	t.Helper()
	o, err := pipeline.New(stages, pipeline.Config{})
	require.NoError(t, err)
	return o
}

func newRequest(t *testing.T) *types.PipelineRequest {
	t.Helper()
	req, err := types.NewPipelineRequest(testPNG, "", "", uuid.Nil)
	require.NoError(t, err)
	return req
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "appraise", "history", "token"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, cmd.Name())
		})
	}

	assert.NotNil(t, serveCmd.Flags().Lookup("port"))
	assert.NotNil(t, serveCmd.Flags().Lookup("metrics-addr"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestStreamAppraisal_Text(t *testing.T) {
	var out bytes.Buffer
	outcome, err := streamAppraisal(context.Background(), newOrchestrator(t, pricedStages()), newRequest(t), &out, false)
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.Equal(t, types.ClassMassProduct, outcome.Classification)
	text := out.String()
	assert.Contains(t, text, "[vision]")
	assert.Contains(t, text, "[price]")
	assert.Contains(t, text, "APPRAISAL RESULT")
	assert.Contains(t, text, "SEIKO 5 SNK809")
	assert.Contains(t, text, "¥8,000")
}

func TestStreamAppraisal_JSON(t *testing.T) {
	var out bytes.Buffer
	_, err := streamAppraisal(context.Background(), newOrchestrator(t, pricedStages()), newRequest(t), &out, true)
	require.NoError(t, err)

	var kinds []string
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), scanner.Text())
		kinds = append(kinds, ev["type"].(string))
		if ev["type"] == string(pipeline.EventComplete) {
			data, ok := ev["result"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, string(types.ClassMassProduct), data["classification"])
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, string(pipeline.EventComplete), kinds[len(kinds)-1])
	assert.NotContains(t, out.String(), "APPRAISAL RESULT")
}

func TestStreamAppraisal_EarlyExit(t *testing.T) {
	stages := pricedStages()
	stages[0] = stage(types.StageVision, types.Terminate(types.ReasonProhibited, &types.VisionPayload{
		Category:   types.CategoryProhibited,
		Confidence: types.ConfidenceHigh,
	}))

	var out bytes.Buffer
	outcome, err := streamAppraisal(context.Background(), newOrchestrator(t, stages), newRequest(t), &out, false)
	require.NoError(t, err)

	assert.Equal(t, types.ClassProhibited, outcome.Classification)
	assert.Equal(t, types.PointVisionProhibited, outcome.TerminationPoint)
	assert.NotContains(t, out.String(), "[search]")
}

func TestStreamAppraisal_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := streamAppraisal(ctx, newOrchestrator(t, pricedStages()), newRequest(t), &out, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}

func TestAppraiseCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "appraise", t.TempDir()+"/missing.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read image")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key-at-least-32-characters-long")
	user := uuid.New()

	out, err := execute(t, "token", "--user", user.String())
	require.NoError(t, err)

	jwtCfg, err := config.NewJWTConfig()
	require.NoError(t, err)
	claims, err := server.NewJWTService(jwtCfg, nil).ValidateToken(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, user, claims.UserID)
}

func TestTokenCommand_Errors(t *testing.T) {
	t.Run("invalid user", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "test-secret-key-at-least-32-characters-long")
		_, err := execute(t, "token", "--user", "not-a-uuid")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid --user")
	})

	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := execute(t, "token", "--user", uuid.NewString())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})
}

func TestHistoryCommand_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"invalid user", []string{"history", "--user", "x", "--limit", "20", "--offset", "0"}, "invalid --user"},
		{"limit too large", []string{"history", "--user", uuid.NewString(), "--limit", "101", "--offset", "0"}, "--limit"},
		{"negative offset", []string{"history", "--user", uuid.NewString(), "--limit", "20", "--offset", "-1"}, "--offset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
