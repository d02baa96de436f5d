// Package vision implements the first appraisal stage: it screens the image,
// runs a visual search and names the item.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/appraisal-agent/internal/lens"
	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/storage"
	"github.com/jonathan/appraisal-agent/internal/types"
)

const (
	maxFeatures = 5
	maxMatches  = 5
	tempURLTTL  = 15 * time.Minute
)

// Retry advice shown with an unknown result.
const (
	adviceNoImage    = "画像を添付してください。"
	adviceUpload     = "もう一度お試しください。"
	adviceLensError  = "しばらく待ってからもう一度お試しください。"
	adviceNoMatches  = "別の角度から撮影するか、商品全体が写るようにしてください。"
	adviceSystemFail = "システムエラーが発生しました。もう一度お試しください。"
)

// Searcher runs a visual search for a publicly reachable image URL.
type Searcher interface {
	Search(ctx context.Context, imageURL string) (*lens.Result, error)
}

// Config holds Analyzer collaborators.
type Config struct {
	// Guardrail is optional; nil disables the check.
	Guardrail  Guardrail
	Searcher   Searcher
	Identifier Identifier
	Store      storage.ImageStore
	Logger     *slog.Logger
}

// Analyzer classifies an image as processable, unknown or prohibited.
type Analyzer struct {
	guardrail  Guardrail
	searcher   Searcher
	identifier Identifier
	store      storage.ImageStore
	logger     *slog.Logger
}

// NewAnalyzer creates an analyzer. Searcher and Store are required.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.Searcher == nil {
		return nil, errors.New("vision: searcher is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("vision: image store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Analyzer{
		guardrail:  cfg.Guardrail,
		searcher:   cfg.Searcher,
		identifier: cfg.Identifier,
		store:      cfg.Store,
		logger:     cfg.Logger.With("stage", types.StageVision),
	}, nil
}

// ClassifyImage runs guardrail, visual search and identification in turn.
// Backend failures are reported in the payload as an unknown category; an
// error is returned only when ctx is done.
func (a *Analyzer) ClassifyImage(ctx context.Context, image []byte, mimeType string) (*types.VisionPayload, error) {
	if len(image) == 0 {
		return unknown("画像が見つかりませんでした。", adviceNoImage), nil
	}

	if a.guardrail != nil {
		pipeline.Think(ctx, "画像の安全性を確認しています")
		verdict, err := a.guardrail.Check(ctx, image, mimeType)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			a.logger.Warn("guardrail check failed, continuing", "error", err)
		case verdict != nil && verdict.IsProhibited:
			a.logger.Info("guardrail detected prohibited content", "observation", verdict.Observation, "reason", verdict.Reason)
			return &types.VisionPayload{
				Category:   types.CategoryProhibited,
				Confidence: types.ConfidenceHigh,
				Reasoning:  "禁止コンテンツが検出されました: " + verdict.Reason,
			}, nil
		}
	}

	pipeline.Think(ctx, "画像をアップロードしています")
	imageURL, cleanup, err := a.uploadTemp(ctx, image, mimeType)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Error("failed to upload image for visual search", "error", err)
		return unknown("画像のアップロードに失敗しました: "+err.Error(), adviceUpload), nil
	}
	defer cleanup()

	pipeline.Think(ctx, "Google Lensで類似商品を検索しています")
	result, err := a.searcher.Search(ctx, imageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("visual search failed", "error", err)
		return unknown("Google Lens検索エラー: "+searchErrorMessage(err), adviceLensError), nil
	}
	if !result.HasMatches() {
		return unknown("Google Lensで類似商品が見つかりませんでした。", adviceNoMatches), nil
	}
	pipeline.ReportProgress(ctx, fmt.Sprintf("%d件の類似商品が見つかりました", len(result.VisualMatches)), result.TopMatches(maxMatches))

	var (
		name     string
		features []string
	)
	if a.identifier != nil {
		pipeline.Think(ctx, "商品名を特定しています")
		name, features, err = a.identifier.Identify(ctx, image, mimeType, result)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("product identification failed, using raw visual search data", "error", err)
		}
	}

	payload := fromLens(result, name, features)
	a.logger.Info("vision analysis complete",
		"category", payload.Category,
		"confidence", payload.Confidence,
		"item", payload.ItemName)
	return payload, nil
}

// uploadTemp stores the image under a temporary key and returns a presigned
// URL plus a cleanup func that removes the object.
func (a *Analyzer) uploadTemp(ctx context.Context, image []byte, mimeType string) (string, func(), error) {
	key := storage.TempKey(mimeType)
	if err := a.store.PutImage(ctx, key, image, mimeType); err != nil {
		return "", nil, err
	}

	cleanup := func() {
		// The run may already be cancelled; deletion should still happen.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.store.Delete(ctx, key); err != nil {
			a.logger.Warn("failed to delete temporary image", "key", key, "error", err)
		}
	}

	url, err := a.store.PresignGet(ctx, key, tempURLTTL)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return url, cleanup, nil
}

// fromLens maps a visual search result to a processable payload, preferring
// the identified name and features over the raw result.
func fromLens(result *lens.Result, name string, features []string) *types.VisionPayload {
	if name == "" {
		name = result.ItemName()
	}
	if len(features) == 0 {
		features = result.Features(maxFeatures)
	}

	confidence := types.ConfidenceHigh
	if len(result.VisualMatches) < 3 {
		confidence = types.ConfidenceMedium
	}
	if result.KnowledgeGraph == nil {
		confidence = confidence.Lower()
	}

	reasoning := fmt.Sprintf("Google Lensで%d件の類似商品を検出しました。", len(result.VisualMatches))
	if name != "" {
		reasoning += " 商品名: " + name
	}

	return &types.VisionPayload{
		Category:       types.CategoryProcessable,
		ItemName:       name,
		VisualFeatures: features,
		Confidence:     confidence,
		Reasoning:      reasoning,
		VisualMatches:  result.TopMatches(maxMatches),
	}
}

func unknown(reasoning, advice string) *types.VisionPayload {
	return &types.VisionPayload{
		Category:    types.CategoryUnknown,
		Confidence:  types.ConfidenceLow,
		Reasoning:   reasoning,
		RetryAdvice: advice,
	}
}

// searchErrorMessage strips the call wrapper so the user sees the cause.
func searchErrorMessage(err error) string {
	var callErr *types.ExternalCallError
	if errors.As(err, &callErr) && callErr.Cause != nil {
		return callErr.Cause.Error()
	}
	return err.Error()
}
