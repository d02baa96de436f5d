package vision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/appraisal-agent/internal/lens"
	"github.com/jonathan/appraisal-agent/internal/llm/llmtest"
	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/storage/storagetest"
	"github.com/jonathan/appraisal-agent/internal/types"
)

var pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeSearcher struct {
	result *lens.Result
	err    error
	urls   []string
}

func (f *fakeSearcher) Search(_ context.Context, imageURL string) (*lens.Result, error) {
	f.urls = append(f.urls, imageURL)
	return f.result, f.err
}

func switchResult() *lens.Result {
	return &lens.Result{
		VisualMatches: []lens.VisualMatch{
			{Title: "Nintendo Switch 本体", Source: "メルカリ", Price: "¥15,800"},
			{Title: "任天堂 スイッチ", Source: "Amazon"},
			{Title: "Switch 中古", Source: "ヤフオク"},
		},
		KnowledgeGraph: &lens.KnowledgeGraph{Title: "Nintendo Switch", Subtitle: "ゲーム機"},
		RelatedQueries: []string{"switch lite"},
	}
}

const (
	safeVerdict       = `{"is_prohibited": false, "observation": "ゲーム機", "reason": ""}`
	prohibitedVerdict = `{"is_prohibited": true, "observation": "人物の顔", "reason": "人物の顔が明確に写っています"}`
	identification    = "商品名: Nintendo Switch 本体 ネオンブルー/ネオンレッド\n特徴: ゲーム機, 携帯型, Joy-Con付き"
)

func newAnalyzer(t *testing.T, verdict string, searcher Searcher) (*Analyzer, *llmtest.Client, *storagetest.Store) {
	t.Helper()
	client := llmtest.New(
		llmtest.Rule{Match: "モデレーター", Response: verdict},
		llmtest.Rule{Match: "商品鑑定の専門家", Response: identification},
	)
	store := storagetest.New()
	a, err := NewAnalyzer(Config{
		Guardrail:  NewLLMGuardrail(client),
		Searcher:   searcher,
		Identifier: NewLLMIdentifier(client),
		Store:      store,
	})
	require.NoError(t, err)
	return a, client, store
}

func TestNewAnalyzer_RequiresCollaborators(t *testing.T) {
	_, err := NewAnalyzer(Config{Store: storagetest.New()})
	assert.Error(t, err)
	_, err = NewAnalyzer(Config{Searcher: &fakeSearcher{}})
	assert.Error(t, err)
}

func TestClassifyImage_Processable(t *testing.T) {
	searcher := &fakeSearcher{result: switchResult()}
	a, client, store := newAnalyzer(t, safeVerdict, searcher)

	payload, err := a.ClassifyImage(context.Background(), pngImage, "image/png")
	require.NoError(t, err)

	assert.Equal(t, types.CategoryProcessable, payload.Category)
	assert.Equal(t, "Nintendo Switch 本体 ネオンブルー/ネオンレッド", payload.ItemName)
	assert.Equal(t, []string{"ゲーム機", "携帯型", "Joy-Con付き"}, payload.VisualFeatures)
	assert.Equal(t, types.ConfidenceHigh, payload.Confidence)
	assert.Contains(t, payload.Reasoning, "Google Lensで3件の類似商品を検出しました。")
	assert.Len(t, payload.VisualMatches, 3)

	// The temporary object was presigned, searched and removed.
	require.Len(t, searcher.urls, 1)
	assert.True(t, strings.HasPrefix(searcher.urls[0], store.BaseURL+"tmp/"))
	assert.True(t, strings.HasSuffix(searcher.urls[0], ".png"))
	assert.Empty(t, store.Keys())
	assert.Len(t, store.Deleted(), 1)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].HasImage)
	assert.True(t, calls[0].JSON)
	assert.Contains(t, calls[1].Prompt, "【ナレッジグラフ】Nintendo Switch")
}

func TestClassifyImage_ProhibitedSkipsSearch(t *testing.T) {
	searcher := &fakeSearcher{result: switchResult()}
	a, client, store := newAnalyzer(t, prohibitedVerdict, searcher)

	payload, err := a.ClassifyImage(context.Background(), pngImage, "image/png")
	require.NoError(t, err)

	assert.Equal(t, types.CategoryProhibited, payload.Category)
	assert.Equal(t, types.ConfidenceHigh, payload.Confidence)
	assert.Equal(t, "禁止コンテンツが検出されました: 人物の顔が明確に写っています", payload.Reasoning)
	assert.Empty(t, searcher.urls)
	assert.Empty(t, store.Keys())
	assert.Len(t, client.Calls(), 1)
}

func TestClassifyImage_GuardrailFailsOpen(t *testing.T) {
	tests := []struct {
		name    string
		verdict string
	}{
		{"malformed verdict", `{"observation": "no flag"}`},
		{"not json", "I cannot help with that"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newAnalyzer(t, tt.verdict, &fakeSearcher{result: switchResult()})

			payload, err := a.ClassifyImage(context.Background(), pngImage, "image/png")
			require.NoError(t, err)
			assert.Equal(t, types.CategoryProcessable, payload.Category)
		})
	}
}

func TestClassifyImage_Unknown(t *testing.T) {
	tests := []struct {
		name       string
		image      []byte
		searcher   *fakeSearcher
		putErr     error
		wantReason string
		wantAdvice string
	}{
		{
			name:       "no image",
			image:      nil,
			searcher:   &fakeSearcher{},
			wantReason: "画像が見つかりませんでした。",
			wantAdvice: adviceNoImage,
		},
		{
			name:       "upload failure",
			image:      pngImage,
			searcher:   &fakeSearcher{},
			putErr:     errors.New("bucket unavailable"),
			wantReason: "画像のアップロードに失敗しました: bucket unavailable",
			wantAdvice: adviceUpload,
		},
		{
			name:  "lens error",
			image: pngImage,
			searcher: &fakeSearcher{err: &types.ExternalCallError{
				Stage: types.StageVision, Op: "google lens search", Cause: &lens.APIError{StatusCode: 503}, Transient: true,
			}},
			wantReason: "Google Lens検索エラー: HTTP error: 503",
			wantAdvice: adviceLensError,
		},
		{
			name:       "no matches",
			image:      pngImage,
			searcher:   &fakeSearcher{result: &lens.Result{}},
			wantReason: "Google Lensで類似商品が見つかりませんでした。",
			wantAdvice: adviceNoMatches,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, store := newAnalyzer(t, safeVerdict, tt.searcher)
			store.PutErr = tt.putErr

			payload, err := a.ClassifyImage(context.Background(), tt.image, "image/png")
			require.NoError(t, err)
			assert.Equal(t, types.CategoryUnknown, payload.Category)
			assert.Equal(t, types.ConfidenceLow, payload.Confidence)
			assert.Equal(t, tt.wantReason, payload.Reasoning)
			assert.Equal(t, tt.wantAdvice, payload.RetryAdvice)
			assert.Empty(t, store.Keys())
		})
	}
}

func TestClassifyImage_IdentificationFallsBackToLens(t *testing.T) {
	client := llmtest.New(
		llmtest.Rule{Match: "モデレーター", Response: safeVerdict},
		llmtest.Rule{Match: "商品鑑定の専門家", Err: errors.New("quota exceeded")},
	)
	a, err := NewAnalyzer(Config{
		Guardrail:  NewLLMGuardrail(client),
		Searcher:   &fakeSearcher{result: switchResult()},
		Identifier: NewLLMIdentifier(client),
		Store:      storagetest.New(),
	})
	require.NoError(t, err)

	payload, err := a.ClassifyImage(context.Background(), pngImage, "image/png")
	require.NoError(t, err)
	assert.Equal(t, types.CategoryProcessable, payload.Category)
	assert.Equal(t, "Nintendo Switch", payload.ItemName)
	assert.Equal(t, []string{"ゲーム機", "販売: メルカリ", "参考価格: ¥15,800", "switch lite"}, payload.VisualFeatures)
}

func TestClassifyImage_CancelledContext(t *testing.T) {
	a, _, _ := newAnalyzer(t, safeVerdict, &fakeSearcher{result: switchResult()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.ClassifyImage(ctx, pngImage, "image/png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromLens_Confidence(t *testing.T) {
	three := []lens.VisualMatch{{Title: "a"}, {Title: "b"}, {Title: "c"}}
	one := []lens.VisualMatch{{Title: "a"}}
	kg := &lens.KnowledgeGraph{Title: "kg"}

	tests := []struct {
		name   string
		result *lens.Result
		want   types.Confidence
	}{
		{"many matches with graph", &lens.Result{VisualMatches: three, KnowledgeGraph: kg}, types.ConfidenceHigh},
		{"many matches without graph", &lens.Result{VisualMatches: three}, types.ConfidenceMedium},
		{"few matches with graph", &lens.Result{VisualMatches: one, KnowledgeGraph: kg}, types.ConfidenceMedium},
		{"few matches without graph", &lens.Result{VisualMatches: one}, types.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fromLens(tt.result, "", nil).Confidence)
		})
	}
}

func TestParseIdentification(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantName     string
		wantFeatures []string
	}{
		{"ascii colons", "商品名: Nike Air Max 90\n特徴: スニーカー, メンズ", "Nike Air Max 90", []string{"スニーカー", "メンズ"}},
		{"full-width colons", "商品名：ルイヴィトン ネヴァーフル\n特徴：トート、レザー", "ルイヴィトン ネヴァーフル", []string{"トート", "レザー"}},
		{"extra chatter", "以下の通りです。\n  商品名: Switch  \n備考: なし", "Switch", nil},
		{"nothing", "わかりません", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, features := ParseIdentification(tt.text)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantFeatures, features)
		})
	}
}

type backendFunc func(ctx context.Context, image []byte, mimeType string) (*types.VisionPayload, error)

func (f backendFunc) ClassifyImage(ctx context.Context, image []byte, mimeType string) (*types.VisionPayload, error) {
	return f(ctx, image, mimeType)
}

func TestStage_Decisions(t *testing.T) {
	tests := []struct {
		name         string
		payload      *types.VisionPayload
		err          error
		wantDecision types.Decision
		wantReason   types.TerminationReason
	}{
		{"processable continues", &types.VisionPayload{Category: types.CategoryProcessable, ItemName: "x", Confidence: types.ConfidenceHigh}, nil, types.DecisionContinue, ""},
		{"prohibited terminates", &types.VisionPayload{Category: types.CategoryProhibited, Confidence: types.ConfidenceHigh}, nil, types.DecisionTerminate, types.ReasonProhibited},
		{"unknown terminates", &types.VisionPayload{Category: types.CategoryUnknown, Confidence: types.ConfidenceLow}, nil, types.DecisionTerminate, types.ReasonUnidentifiable},
		{"backend error terminates", nil, errors.New("boom"), types.DecisionTerminate, types.ReasonUnidentifiable},
		{"nil payload terminates", nil, nil, types.DecisionTerminate, types.ReasonUnidentifiable},
	}

	req, err := types.NewPipelineRequest(pngImage, "", types.PlatformWeb, uuid.New())
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := NewStage(backendFunc(func(context.Context, []byte, string) (*types.VisionPayload, error) {
				return tt.payload, tt.err
			}), nil)
			sc := pipeline.NewStageContext(req, nil, nil, types.StageVision)

			res, err := stage.Execute(context.Background(), sc)
			require.NoError(t, err)
			require.NoError(t, res.Validate())
			assert.Equal(t, types.StageVision, res.Stage)
			assert.Equal(t, tt.wantDecision, res.Decision)
			assert.Equal(t, tt.wantReason, res.TerminationReason)
		})
	}
}

func TestStage_PropagatesCancellation(t *testing.T) {
	req, err := types.NewPipelineRequest(pngImage, "", types.PlatformWeb, uuid.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stage := NewStage(backendFunc(func(ctx context.Context, _ []byte, _ string) (*types.VisionPayload, error) {
		return nil, ctx.Err()
	}), nil)

	_, err = stage.Execute(ctx, pipeline.NewStageContext(req, nil, nil, types.StageVision))
	assert.ErrorIs(t, err, context.Canceled)
}
