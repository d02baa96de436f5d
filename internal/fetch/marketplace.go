package fetch

import (
	"net/url"
	"strings"
)

// Marketplace is a known second-hand or retail listing site.
type Marketplace string

const (
	MarketplaceMercari      Marketplace = "mercari"
	MarketplaceYahooAuction Marketplace = "yahoo_auction"
	MarketplaceRakuma       Marketplace = "rakuma"
	MarketplaceAmazon       Marketplace = "amazon"
	MarketplaceRakuten      Marketplace = "rakuten"
	MarketplaceUnknown      Marketplace = "unknown"
)

// DetectMarketplace identifies the listing site from a URL.
func DetectMarketplace(urlStr string) Marketplace {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return MarketplaceUnknown
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case hostIs(host, "mercari.com"):
		return MarketplaceMercari
	case hostIs(host, "auctions.yahoo.co.jp"):
		return MarketplaceYahooAuction
	case hostIs(host, "fril.jp"):
		return MarketplaceRakuma
	case hostIs(host, "amazon.co.jp"), hostIs(host, "amazon.com"):
		return MarketplaceAmazon
	case hostIs(host, "rakuten.co.jp"):
		return MarketplaceRakuten
	}
	return MarketplaceUnknown
}

func hostIs(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Label is the name shown to users.
func (m Marketplace) Label() string {
	switch m {
	case MarketplaceMercari:
		return "メルカリ"
	case MarketplaceYahooAuction:
		return "ヤフオク!"
	case MarketplaceRakuma:
		return "ラクマ"
	case MarketplaceAmazon:
		return "Amazon"
	case MarketplaceRakuten:
		return "楽天市場"
	}
	return ""
}

// ContentSelectors returns the listing body selectors for a marketplace.
func (m Marketplace) ContentSelectors() []string {
	switch m {
	case MarketplaceMercari:
		return []string{
			"[data-testid='item-detail-container']",
			"#item-info",
			"mer-item-detail",
			"main",
		}
	case MarketplaceYahooAuction:
		return []string{
			"#ProductTitle",
			".ProductDetail",
			"#adoc",
			"main",
		}
	case MarketplaceRakuma:
		return []string{
			".item-box",
			".item__description",
			"main",
		}
	case MarketplaceAmazon:
		return []string{
			"#centerCol",
			"#ppd",
			"#dp-container",
		}
	case MarketplaceRakuten:
		return []string{
			".item_desc",
			"#rakutenLimitedId_cart",
			"main",
		}
	default:
		return DefaultTextSelectors()
	}
}

// NoiseSelectors returns elements to drop before extraction.
func (m Marketplace) NoiseSelectors() []string {
	common := []string{
		"form",
		".breadcrumb",
		".breadcrumbs",
		".recommend",
		".recommendations",
		".related-items",
		".share-buttons",
		".social-share",
		".cookie-consent",
	}

	switch m {
	case MarketplaceMercari:
		return append(common,
			"[data-testid='comment-list']",
			"[data-testid='similar-items']",
			"mer-navigation-top",
		)
	case MarketplaceYahooAuction:
		return append(common,
			".ProductRecommend",
			"#acMdSellerSidebar",
		)
	case MarketplaceAmazon:
		return append(common,
			"#customerReviews",
			"#sims-consolidated-1_feature_div",
			"#rhf",
		)
	default:
		return common
	}
}
