package lens

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/appraisal-agent/internal/types"
)

const switchResponse = `{
  "search_metadata": {"status": "Success"},
  "visual_matches": [
    {"position": 1, "title": "Nintendo Switch 本体 ネオンブルー", "link": "https://jp.mercari.com/item/1", "source": "メルカリ", "price": {"value": "¥15,800", "extracted_value": 15800}},
    {"position": 2, "title": "任天堂 スイッチ", "link": "https://example.com/2", "source": "Amazon", "price": "¥32,978"},
    {"position": 3, "title": "Switch 中古", "source": "メルカリ"}
  ],
  "knowledge_graph": [{"title": "Nintendo Switch", "subtitle": "ゲーム機", "description": "任天堂の家庭用ゲーム機"}],
  "related_content": [{"query": "nintendo switch 有機el"}, {"query": "switch lite"}, {"link": "https://example.com"}]
}`

func newTestClient(t *testing.T, endpoint string, retries uint) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:        "test-key",
		Endpoint:      endpoint,
		MaxRetries:    retries,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestSearch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "google_lens", q.Get("engine"))
		assert.Equal(t, "https://images.example.com/tmp/a.jpg", q.Get("url"))
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "ja", q.Get("hl"))
		assert.Equal(t, "jp", q.Get("country"))
		_, _ = w.Write([]byte(switchResponse))
	}))
	defer server.Close()

	result, err := newTestClient(t, server.URL, 2).Search(context.Background(), "https://images.example.com/tmp/a.jpg")
	require.NoError(t, err)

	require.Len(t, result.VisualMatches, 3)
	assert.Equal(t, "¥15,800", result.VisualMatches[0].Price)
	assert.Equal(t, "¥32,978", result.VisualMatches[1].Price)
	assert.Empty(t, result.VisualMatches[2].Price)
	require.NotNil(t, result.KnowledgeGraph)
	assert.Equal(t, "Nintendo Switch", result.KnowledgeGraph.Title)
	assert.Equal(t, []string{"nintendo switch 有機el", "switch lite"}, result.RelatedQueries)
}

func TestSearch_RetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(switchResponse))
	}))
	defer server.Close()

	result, err := newTestClient(t, server.URL, 2).Search(context.Background(), "https://x/a.jpg")
	require.NoError(t, err)
	assert.True(t, result.HasMatches())
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 2).Search(context.Background(), "https://x/a.jpg")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var callErr *types.ExternalCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, types.StageVision, callErr.Stage)
	assert.True(t, callErr.Transient)
	assert.Contains(t, err.Error(), "HTTP error: 503")
}

func TestSearch_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 2).Search(context.Background(), "https://x/a.jpg")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var callErr *types.ExternalCallError
	require.True(t, errors.As(err, &callErr))
	assert.False(t, callErr.Transient)
}

func TestSearch_APIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"search_metadata": {"status": "Error"}, "error": "Invalid API key."}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 2).Search(context.Background(), "https://x/a.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key.")
}

func TestSearch_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(t, server.URL, 2).Search(ctx, "https://x/a.jpg")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantErr     bool
		wantMatches int
		wantKG      string
	}{
		{name: "knowledge graph object", body: `{"visual_matches": [{"title": "a"}], "knowledge_graph": {"title": "Vase"}}`, wantMatches: 1, wantKG: "Vase"},
		{name: "knowledge graph empty list", body: `{"visual_matches": [], "knowledge_graph": []}`},
		{name: "no matches", body: `{"search_metadata": {"status": "Success"}, "error": "Google Lens hasn't returned any results for this query."}`},
		{name: "null price", body: `{"visual_matches": [{"title": "a", "price": null}]}`, wantMatches: 1},
		{name: "malformed", body: `{"visual_matches": "x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseResponse([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Len(t, result.VisualMatches, tt.wantMatches)
			if tt.wantKG == "" {
				assert.Nil(t, result.KnowledgeGraph)
			} else {
				require.NotNil(t, result.KnowledgeGraph)
				assert.Equal(t, tt.wantKG, result.KnowledgeGraph.Title)
			}
		})
	}
}
