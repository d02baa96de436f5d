package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get("vision.json", "guardrail")
	require.NoError(t, err)
	assert.NotEmpty(t, prompt)
	assert.Contains(t, prompt, "is_prohibited")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get("search.json", "nonexistent-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet_Panics(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
}

func TestMustGet_AllStagePrompts(t *testing.T) {
	ClearCache()

	tests := []struct {
		file string
		key  string
	}{
		{"vision.json", "guardrail"},
		{"vision.json", "identify-product"},
		{"search.json", "classify-market"},
		{"price.json", "extract-price-range"},
	}
	for _, tt := range tests {
		t.Run(tt.file+"/"+tt.key, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.NotEmpty(t, MustGet(tt.file, tt.key))
			})
		})
	}
}

func TestFormat(t *testing.T) {
	template := "商品名: {{.ItemName}} / {{.SearchQuery}}"
	data := map[string]string{
		"ItemName":    "Nintendo Switch",
		"SearchQuery": "Nintendo Switch メルカリ 価格",
	}

	result := Format(template, data)
	assert.Equal(t, "商品名: Nintendo Switch / Nintendo Switch メルカリ 価格", result)
}

func TestFormat_NoPlaceholders(t *testing.T) {
	template := "No placeholders here"
	data := map[string]string{"Key": "Value"}

	result := Format(template, data)
	assert.Equal(t, template, result)
}

func TestFormat_EmptyData(t *testing.T) {
	template := "Hello {{.Name}}"
	data := map[string]string{}

	result := Format(template, data)
	assert.Equal(t, template, result) // Placeholder remains
}

func TestRender_FillsPlaceholders(t *testing.T) {
	ClearCache()

	prompt, err := Render("price.json", "extract-price-range", map[string]string{
		"Product":     "Nintendo Switch",
		"SearchQuery": "Nintendo Switch メルカリ 価格",
		"Evidence":    "- メルカリ 15000円",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Nintendo Switch メルカリ 価格")
	assert.Contains(t, prompt, "メルカリ 15000円")
	assert.NotContains(t, prompt, "{{.Product}}")
}

func TestRender_MissingKey(t *testing.T) {
	ClearCache()

	_, err := Render("price.json", "missing", nil)
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	ClearCache()

	keys, err := List("vision.json")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"guardrail", "identify-product"}, keys)
}

func TestCaching(t *testing.T) {
	ClearCache()

	// First call loads from file
	prompt1, err := Get("search.json", "classify-market")
	require.NoError(t, err)

	// Second call should use cache
	prompt2, err := Get("search.json", "classify-market")
	require.NoError(t, err)

	assert.Equal(t, prompt1, prompt2)
}
