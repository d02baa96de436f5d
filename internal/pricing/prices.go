package pricing

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/width"
)

// Observed prices outside this range are noise such as postage or IDs.
const (
	minObservedPrice = 100
	maxObservedPrice = 10_000_000
)

var yenAmount = regexp.MustCompile(`[¥￥]\s?([0-9][0-9,]*)|([0-9][0-9,]*)\s?円`)

var yenPrinter = message.NewPrinter(language.Japanese)

// FormatYen renders an amount as "¥12,000".
func FormatYen(amount int) string {
	return yenPrinter.Sprintf("¥%d", amount)
}

// ExtractYenPrices finds yen amounts such as "¥18,500", "￥１８５００" or
// "15,000円" in text.
func ExtractYenPrices(text string) []int {
	text = width.Narrow.String(text)

	var prices []int
	for _, m := range yenAmount.FindAllStringSubmatch(text, -1) {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		n, err := strconv.Atoi(strings.ReplaceAll(digits, ",", ""))
		if err != nil || n < minObservedPrice || n > maxObservedPrice {
			continue
		}
		prices = append(prices, n)
	}
	return prices
}

// PriceStats summarizes observed prices.
type PriceStats struct {
	Count  int
	Min    int
	Median int
	Max    int
}

// Summarize returns statistics for prices, or false when there are none.
func Summarize(prices []int) (PriceStats, bool) {
	if len(prices) == 0 {
		return PriceStats{}, false
	}
	sorted := slices.Clone(prices)
	slices.Sort(sorted)
	return PriceStats{
		Count:  len(sorted),
		Min:    sorted[0],
		Median: sorted[len(sorted)/2],
		Max:    sorted[len(sorted)-1],
	}, true
}

// String renders the statistics for a prompt.
func (s PriceStats) String() string {
	return yenPrinter.Sprintf("%d件 (最安 %s / 中央値 %s / 最高 %s)", s.Count, FormatYen(s.Min), FormatYen(s.Median), FormatYen(s.Max))
}
