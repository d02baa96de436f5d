package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/records"
	"github.com/jonathan/appraisal-agent/internal/types"
)

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintResult(records.DisplayResult{
		AppraisalID:       "7d9f3c1e-0000-4000-8000-000000000001",
		ItemName:          "Nintendo Switch Lite",
		IdentifiedProduct: "Nintendo Switch Lite ターコイズ",
		VisualFeatures:    []string{"ターコイズ", "携帯モード専用"},
		Classification:    types.ClassMassProduct,
		Price:             &records.PriceInfo{MinPrice: 12000, MaxPrice: 18000, Currency: "JPY", DisplayMessage: "中古相場は¥12,000〜¥18,000です"},
		Confidence:        &records.ConfidenceInfo{Level: types.ConfidenceMedium},
		PriceFactors:      []string{"付属品の有無"},
		TerminationPoint:  types.PointPriceComplete,
	})
	output := buf.String()

	assert.Contains(t, output, "APPRAISAL RESULT")
	assert.Contains(t, output, "mass_product")
	assert.Contains(t, output, "¥12,000〜¥18,000")
	assert.Contains(t, output, "ターコイズ")
	assert.Contains(t, output, "付属品の有無")
	assert.Contains(t, output, "medium")
}

func TestPrintResult_UniqueItem(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintResult(records.DisplayResult{
		Classification: types.ClassUniqueItem,
		Message:        records.MsgUniqueItem,
		Recommendation: "専門家による査定をお勧めします",
	})
	output := buf.String()

	assert.Contains(t, output, records.MsgUniqueItem)
	assert.Contains(t, output, "専門家による査定をお勧めします")
	assert.NotContains(t, output, "価格帯")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	created := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	p.PrintHistory([]records.DisplayResult{
		{Classification: types.ClassMassProduct, IdentifiedProduct: "AirPods Pro", CreatedAt: &created, Price: &records.PriceInfo{MinPrice: 9800, MaxPrice: 15000}},
		{Classification: types.ClassProhibited, Message: records.MsgProhibited},
	}, 12)
	output := buf.String()

	assert.Contains(t, output, "Total appraisals: 12")
	assert.Contains(t, output, "2026-04-02")
	assert.Contains(t, output, "AirPods Pro ¥9,800〜¥15,000")
	assert.Contains(t, output, records.MsgProhibited)
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintEvent(pipeline.ProgressEvent{Kind: pipeline.EventStageStart, Stage: types.StageVision, Message: "画像を分析しています"})
	p.PrintEvent(pipeline.ProgressEvent{Kind: pipeline.EventError, Message: "査定処理がタイムアウトしました"})
	p.PrintEvent(pipeline.ProgressEvent{Kind: pipeline.EventComplete, Message: "mass_product"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[vision]")
	assert.Contains(t, lines[0], "画像を分析しています")
	assert.Contains(t, lines[1], "✗")
	assert.Contains(t, lines[2], "✓ mass_product")
}

func TestBoxAlignment(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.printBox("T", "ascii\n全角の文字列\n"+strings.Repeat("長", 40))
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.Equal(t, boxWidth, cells(line), line)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "全角...", truncate("全角文字列です", 8))
	assert.LessOrEqual(t, cells(truncate(strings.Repeat("長", 40), 56)), 56)
}
