package lens

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/appraisal-agent/internal/types"
)

// VisualMatch is one visually similar listing.
type VisualMatch struct {
	Position  int
	Title     string
	Link      string
	Source    string
	Price     string
	Thumbnail string
	InStock   *bool
}

// KnowledgeGraph is Google's entity card for the recognized item.
type KnowledgeGraph struct {
	Title       string
	Subtitle    string
	Description string
}

// Result is a parsed Google Lens response.
type Result struct {
	VisualMatches  []VisualMatch
	KnowledgeGraph *KnowledgeGraph
	RelatedQueries []string
}

// HasMatches reports whether any visual match was found.
func (r *Result) HasMatches() bool {
	return r != nil && len(r.VisualMatches) > 0
}

// ItemName prefers the knowledge graph title over the top match.
func (r *Result) ItemName() string {
	if r == nil {
		return ""
	}
	if r.KnowledgeGraph != nil && r.KnowledgeGraph.Title != "" {
		return r.KnowledgeGraph.Title
	}
	if len(r.VisualMatches) > 0 {
		return r.VisualMatches[0].Title
	}
	return ""
}

// Features derives up to max descriptive features from the raw results: the
// knowledge graph subtitle, distinct sellers, one reference price and
// related queries.
func (r *Result) Features(max int) []string {
	if r == nil || max <= 0 {
		return nil
	}

	var features []string
	if r.KnowledgeGraph != nil && r.KnowledgeGraph.Subtitle != "" {
		features = append(features, r.KnowledgeGraph.Subtitle)
	}

	seen := make(map[string]bool)
	matches := r.VisualMatches
	if len(matches) > max {
		matches = matches[:max]
	}
	for _, m := range matches {
		if m.Source != "" && !seen[m.Source] {
			seen[m.Source] = true
			features = append(features, "販売: "+m.Source)
		}
		if m.Price != "" && len(features) < max {
			features = append(features, "参考価格: "+m.Price)
			break
		}
	}

	for i, q := range r.RelatedQueries {
		if i >= 2 || len(features) >= max {
			break
		}
		features = append(features, q)
	}

	if len(features) > max {
		features = features[:max]
	}
	return features
}

// LLMContext formats the result as prompt context.
func (r *Result) LLMContext() string {
	if r == nil {
		return ""
	}

	var parts []string
	if kg := r.KnowledgeGraph; kg != nil {
		if kg.Title != "" {
			parts = append(parts, "【ナレッジグラフ】"+kg.Title)
		}
		if kg.Subtitle != "" {
			parts = append(parts, "  サブタイトル: "+kg.Subtitle)
		}
		if kg.Description != "" {
			parts = append(parts, "  説明: "+kg.Description)
		}
	}

	if len(r.VisualMatches) > 0 {
		parts = append(parts, "【類似商品一覧】")
		for i, m := range r.VisualMatches {
			if i >= 10 {
				break
			}
			line := "  - " + m.Title
			if m.Source != "" {
				line += fmt.Sprintf(" (%s)", m.Source)
			}
			if m.Price != "" {
				line += " " + m.Price
			}
			parts = append(parts, line)
		}
	}

	if len(r.RelatedQueries) > 0 {
		queries := r.RelatedQueries
		if len(queries) > 5 {
			queries = queries[:5]
		}
		parts = append(parts, "【関連クエリ】"+strings.Join(queries, ", "))
	}

	return strings.Join(parts, "\n")
}

// TopMatches converts the first n matches to payload evidence.
func (r *Result) TopMatches(n int) []types.VisualMatch {
	if r == nil {
		return nil
	}
	if n > len(r.VisualMatches) {
		n = len(r.VisualMatches)
	}
	out := make([]types.VisualMatch, 0, n)
	for _, m := range r.VisualMatches[:n] {
		out = append(out, types.VisualMatch{Title: m.Title, Link: m.Link, Source: m.Source, Price: m.Price})
	}
	return out
}

type rawResponse struct {
	SearchMetadata struct {
		Status string `json:"status"`
	} `json:"search_metadata"`
	Error          string           `json:"error"`
	VisualMatches  []rawVisualMatch `json:"visual_matches"`
	KnowledgeGraph json.RawMessage  `json:"knowledge_graph"`
	RelatedContent []struct {
		Query string `json:"query"`
	} `json:"related_content"`
}

type rawVisualMatch struct {
	Position  int        `json:"position"`
	Title     string     `json:"title"`
	Link      string     `json:"link"`
	Source    string     `json:"source"`
	Price     priceValue `json:"price"`
	Thumbnail string     `json:"thumbnail"`
	InStock   *bool      `json:"in_stock"`
}

type rawKnowledgeGraph struct {
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Description string `json:"description"`
}

// knowledgeGraph accepts either a single object or a list of them; the
// first entry wins.
func (r *rawResponse) knowledgeGraph() *KnowledgeGraph {
	data := bytes.TrimSpace(r.KnowledgeGraph)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var kg rawKnowledgeGraph
	if data[0] == '[' {
		var list []rawKnowledgeGraph
		if err := json.Unmarshal(data, &list); err != nil || len(list) == 0 {
			return nil
		}
		kg = list[0]
	} else if err := json.Unmarshal(data, &kg); err != nil {
		return nil
	}

	if kg.Title == "" && kg.Subtitle == "" && kg.Description == "" {
		return nil
	}
	return &KnowledgeGraph{Title: kg.Title, Subtitle: kg.Subtitle, Description: kg.Description}
}

// priceValue decodes "¥5,000" as well as {"value": "¥5,000", ...}.
type priceValue string

func (p *priceValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = priceValue(s)
		return nil
	}
	if data[0] == '{' {
		var obj struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*p = priceValue(obj.Value)
	}
	return nil
}
