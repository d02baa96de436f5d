// Package storage keeps appraisal images in an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/appraisal-agent/internal/config"
	"github.com/jonathan/appraisal-agent/internal/types"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ImageStore stores images and hands out time-limited URLs for them.
type ImageStore interface {
	PutImage(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// AppraisalKey is the permanent location of an appraisal's image.
func AppraisalKey(owner, appraisalID uuid.UUID, mimeType string) string {
	return fmt.Sprintf("appraisals/%s/%s.%s", owner, appraisalID, types.ImageExtension(mimeType))
}

// RevisionKey is the location of a replacement image for an appraisal that
// is rerun in place. Each revision gets its own object so the current image
// stays intact until the record points at the new one.
func RevisionKey(owner, appraisalID, revision uuid.UUID, mimeType string) string {
	return fmt.Sprintf("appraisals/%s/%s-%s.%s", owner, appraisalID, revision, types.ImageExtension(mimeType))
}

// TempKey is a fresh location for an image that only needs to live for the
// duration of a visual search.
func TempKey(mimeType string) string {
	return fmt.Sprintf("tmp/%s.%s", uuid.New(), types.ImageExtension(mimeType))
}

// New creates the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (ImageStore, error) {
	switch cfg.Backend {
	case config.StorageMinIO, "":
		store, err := NewMinIOStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
