package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/appraisal-agent/internal/fetch"
	"github.com/jonathan/appraisal-agent/internal/llm/llmtest"
	"github.com/jonathan/appraisal-agent/internal/research"
	"github.com/jonathan/appraisal-agent/internal/types"
)

type fakeSearcher struct {
	evidence []research.Evidence
	err      error
	queries  []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int64) ([]research.Evidence, error) {
	f.queries = append(f.queries, query)
	return f.evidence, f.err
}

type fakePages struct {
	pages []*fetch.Page
	urls  []string
}

func (f *fakePages) ReadAll(_ context.Context, urls []string) []*fetch.Page {
	f.urls = append(f.urls, urls...)
	return f.pages
}

const priceMatch = "相場価格"

func priceRule(response string) llmtest.Rule {
	return llmtest.Rule{Match: priceMatch, Response: response}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		product string
		want    string
	}{
		{"NIKE Air Max 90, 白", "NIKE Air Max 90 白 メルカリ 価格"},
		{"Louis Vuitton ネヴァーフル MM,ダミエ・エベヌ", "Louis Vuitton ネヴァーフル MM ダミエ・エベヌ メルカリ 価格"},
		{"Nintendo Switch", "Nintendo Switch メルカリ 価格"},
	}
	for _, tt := range tests {
		t.Run(tt.product, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.product))
		})
	}
}

func TestNewLookup_RequiresClient(t *testing.T) {
	_, err := NewLookup(Config{})
	assert.Error(t, err)
}

func TestLookupPriceRange_Complete(t *testing.T) {
	searcher := &fakeSearcher{evidence: []research.Evidence{
		{Title: "Switch 本体 | メルカリ", Snippet: "¥18,500 送料込み", Link: "https://jp.mercari.com/item/m1"},
		{Title: "Switch まとめ", Snippet: "中古相場", Link: "https://www.youtube.com/watch?v=1"},
	}}
	pages := &fakePages{pages: []*fetch.Page{
		{URL: "https://jp.mercari.com/item/m1", Marketplace: fetch.MarketplaceMercari, Title: "Switch 本体", Text: "美品 ¥16,000"},
	}}
	client := llmtest.New(priceRule(`{"min_price": 12000, "max_price": 18000, "currency": "jpy", "confidence": "high", "reasoning": "メルカリの取引", "display_message": "", "price_factors": ["箱あり: +1,000円"]}`))
	cache := NewMemoryCache(time.Minute)

	lookup, err := NewLookup(Config{Client: client, Searcher: searcher, Pages: pages, Cache: cache})
	require.NoError(t, err)

	payload, err := lookup.LookupPriceRange(context.Background(), "Nintendo Switch, 有機EL")
	require.NoError(t, err)

	assert.Equal(t, types.PriceComplete, payload.Status)
	assert.Equal(t, 12000, payload.MinPrice)
	assert.Equal(t, 18000, payload.MaxPrice)
	assert.Equal(t, "JPY", payload.Currency)
	assert.Equal(t, "中古相場は¥12,000〜¥18,000です", payload.DisplayMessage)
	assert.Equal(t, []string{"箱あり: +1,000円"}, payload.PriceFactors)
	assert.Equal(t, "Nintendo Switch 有機EL メルカリ 価格", payload.SearchQuery)
	assert.True(t, payload.Usable())

	assert.Equal(t, []string{"https://jp.mercari.com/item/m1"}, pages.urls)
	prompt := client.Calls()[0].Prompt
	assert.Contains(t, prompt, "【出品ページ】Switch 本体 (メルカリ)")
	assert.Contains(t, prompt, "【検出された価格】2件 (最安 ¥16,000 / 中央値 ¥18,500 / 最高 ¥18,500)")
	assert.Contains(t, prompt, "[BEGIN QUOTED MARKET DATA")

	// A second lookup is served from the cache.
	again, err := lookup.LookupPriceRange(context.Background(), "Nintendo Switch, 有機EL")
	require.NoError(t, err)
	assert.Equal(t, payload, again)
	assert.Len(t, client.Calls(), 1)
	assert.Len(t, searcher.queries, 1)
}

func TestLookupPriceRange_ZeroRangeIsError(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	client := llmtest.New(priceRule(`{"min_price": 0, "max_price": 0, "confidence": "low", "display_message": ""}`))
	lookup, err := NewLookup(Config{Client: client, Cache: cache})
	require.NoError(t, err)

	payload, err := lookup.LookupPriceRange(context.Background(), "謎の部品")
	require.NoError(t, err)
	assert.Equal(t, types.PriceError, payload.Status)
	assert.Equal(t, "価格情報が見つかりませんでした", payload.DisplayMessage)
	assert.False(t, payload.Usable())

	_, ok, _ := cache.Get(context.Background(), BuildQuery("謎の部品"))
	assert.False(t, ok, "failed lookups are not cached")
}

func TestLookupPriceRange_InvertedRangeIsSwapped(t *testing.T) {
	client := llmtest.New(priceRule(`{"min_price": 9000, "max_price": 5000, "confidence": "medium"}`))
	lookup, err := NewLookup(Config{Client: client})
	require.NoError(t, err)

	payload, err := lookup.LookupPriceRange(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 5000, payload.MinPrice)
	assert.Equal(t, 9000, payload.MaxPrice)
}

func TestLookupPriceRange_Failures(t *testing.T) {
	tests := []struct {
		name     string
		searcher *fakeSearcher
		rule     llmtest.Rule
		status   types.PriceStatus
	}{
		{
			name:     "search failure still extracts",
			searcher: &fakeSearcher{err: errors.New("quota")},
			rule:     priceRule(`{"min_price": 1000, "max_price": 2000, "confidence": "low"}`),
			status:   types.PriceComplete,
		},
		{
			name:     "llm error",
			searcher: &fakeSearcher{},
			rule:     llmtest.Rule{Match: priceMatch, Err: errors.New("model overloaded")},
			status:   types.PriceError,
		},
		{
			name:     "negative price rejected by schema",
			searcher: &fakeSearcher{},
			rule:     priceRule(`{"min_price": -1, "max_price": 2000, "confidence": "low"}`),
			status:   types.PriceError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup, err := NewLookup(Config{Client: llmtest.New(tt.rule), Searcher: tt.searcher})
			require.NoError(t, err)

			payload, err := lookup.LookupPriceRange(context.Background(), "Switch")
			require.NoError(t, err)
			assert.Equal(t, tt.status, payload.Status)
			if tt.status == types.PriceError {
				assert.Zero(t, payload.MinPrice)
				assert.Zero(t, payload.MaxPrice)
				assert.Equal(t, types.ConfidenceLow, payload.Confidence)
				assert.Contains(t, payload.DisplayMessage, "価格検索中にエラーが発生しました: ")
			}
		})
	}
}

func TestLookupPriceRange_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lookup, err := NewLookup(Config{Client: llmtest.New(priceRule(`{}`)), Searcher: &fakeSearcher{}})
	require.NoError(t, err)
	_, err = lookup.LookupPriceRange(ctx, "Switch")
	assert.ErrorIs(t, err, context.Canceled)
}
