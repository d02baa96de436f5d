package research

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/jonathan/appraisal-agent/internal/fetch"
)

// Evidence is one search result.
type Evidence struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
	Source  string `json:"source,omitempty"`
}

// Dedupe drops results whose link was already seen, keeping order.
func Dedupe(items []Evidence) []Evidence {
	seen := make(map[string]bool, len(items))
	out := make([]Evidence, 0, len(items))
	for _, e := range items {
		key := strings.TrimSuffix(e.Link, "/")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// Format renders up to max results as a numbered prompt block.
func Format(items []Evidence, max int) string {
	if len(items) == 0 {
		return "(検索結果なし)"
	}
	if max > 0 && len(items) > max {
		items = items[:max]
	}

	var b strings.Builder
	for i, e := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(e.Title))
		if s := strings.TrimSpace(e.Snippet); s != "" {
			fmt.Fprintf(&b, "   %s\n", strings.ReplaceAll(s, "\n", " "))
		}
		source := e.Source
		if source == "" {
			source = extractDomainFromURL(e.Link)
		}
		fmt.Fprintf(&b, "   出典: %s\n", source)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ListingLinks returns up to max result links that look like marketplace
// listings, best first.
func ListingLinks(items []Evidence, max int) []string {
	type ranked struct {
		link     string
		priority float64
		index    int
	}

	var candidates []ranked
	for i, e := range items {
		if IsExcluded(e.Link) {
			continue
		}
		p := AssignPathPriority(e.Link)
		if fetch.DetectMarketplace(e.Link) != fetch.MarketplaceUnknown {
			p += 0.5
		}
		candidates = append(candidates, ranked{link: e.Link, priority: p, index: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	var links []string
	for _, c := range candidates {
		if max > 0 && len(links) >= max {
			break
		}
		links = append(links, c.link)
	}
	return links
}

// AssignPathPriority scores a URL by how likely it is to be a single listing
// rather than a search or category page.
func AssignPathPriority(urlStr string) float64 {
	urlLower := strings.ToLower(urlStr)

	for _, pattern := range []string{"/item/", "/auction/", "/dp/", "/product/", "/shop/item"} {
		if strings.Contains(urlLower, pattern) {
			return 0.9
		}
	}
	for _, pattern := range []string{"/search", "/category", "/tag/", "?keyword=", "/list"} {
		if strings.Contains(urlLower, pattern) {
			return 0.3
		}
	}
	return 0.5
}

// IsExcluded reports whether a URL points at a site with no listing text
// worth reading.
func IsExcluded(urlStr string) bool {
	excluded := []string{
		"youtube.com",
		"twitter.com",
		"x.com",
		"instagram.com",
		"tiktok.com",
		"facebook.com",
		"pinterest.",
	}

	domain := strings.ToLower(extractDomainFromURL(urlStr))
	if domain == "" {
		return true
	}
	for _, d := range excluded {
		if domain == d || strings.HasSuffix(domain, "."+d) || (strings.HasSuffix(d, ".") && strings.Contains(domain, d)) {
			return true
		}
	}
	return false
}

// extractDomainFromURL extracts the host from a URL without its www prefix.
func extractDomainFromURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}
