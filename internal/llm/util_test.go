package llm

import (
	"testing"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"classification\": \"mass_product\"}\n```",
			expected: `{"classification": "mass_product"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "plain JSON",
			input:    `{"key": "value"}`,
			expected: `{"key": "value"}`,
		},
		{
			name:     "preamble before JSON object",
			input:    "Here is the result:\n{\"min_price\": 12000, \"max_price\": 18000}",
			expected: `{"min_price": 12000, "max_price": 18000}`,
		},
		{
			name:     "trailing commentary",
			input:    "{\"is_safe\": true} I hope this helps",
			expected: "{\"is_safe\": true} I hope this helps",
		},
		{
			name:     "no JSON at all",
			input:    "商品名: Nintendo Switch",
			expected: "商品名: Nintendo Switch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CleanJSONBlock(tt.input)
			if result != tt.expected {
				t.Errorf("CleanJSONBlock() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple object", `{"key": "value"}`, `{"key": "value"}`},
		{"nested objects", `{"outer": {"inner": "value"}}`, `{"outer": {"inner": "value"}}`},
		{"trailing text", `{"key": "value"} and more`, `{"key": "value"}`},
		{"braces inside string", `{"template": "Hello {name}!"}`, `{"template": "Hello {name}!"}`},
		{"escaped quote", `{"a": "say \"}\" now"}`, `{"a": "say \"}\" now"}`},
		{"unbalanced", `{"a": 1`, ""},
		{"empty input", "", ""},
		{"not an object", "not json", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractJSONObject(tt.input)
			if result != tt.expected {
				t.Errorf("extractJSONObject() = %q, want %q", result, tt.expected)
			}
		})
	}
}
