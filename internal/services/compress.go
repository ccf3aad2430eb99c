package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/Lllllllleong/imagepipeline/internal/common"
	"github.com/Lllllllleong/imagepipeline/internal/config"
	"github.com/Lllllllleong/imagepipeline/internal/imaging"
	"github.com/Lllllllleong/imagepipeline/internal/keys"
	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// SkippedBody is returned when the recursion guard drops a compressed key.
const SkippedBody = "skipped"

// CompressConfig holds configuration for the compress stage.
type CompressConfig struct {
	Bucket string
}

// CompressFunction re-encodes newly uploaded images and starts the chain.
type CompressFunction struct {
	blobs   BlobStore
	jobs    JobStore
	trigger StageTrigger
	config  CompressConfig
}

// NewCompress creates a new CompressFunction instance.
func NewCompress(cfg *config.Config, deps Deps) (*CompressFunction, error) {
	if deps.Blobs == nil || deps.Jobs == nil || deps.Trigger == nil {
		return nil, fmt.Errorf("compress stage requires a blob store, a job store and a stage trigger")
	}
	f := &CompressFunction{
		blobs:   deps.Blobs,
		jobs:    deps.Jobs,
		trigger: deps.Trigger,
		config:  CompressConfig{Bucket: cfg.BucketName},
	}
	slog.Info("Compress stage initialized.", "bucket", f.config.Bucket)
	return f, nil
}

// Process handles one new-object notification.
func (f *CompressFunction) Process(ctx context.Context, e models.StorageEvent) models.Response {
	logCtx := slog.With("bucket", e.Bucket, "rawKey", e.Key)

	sourceKey, err := url.QueryUnescape(e.Key)
	if err != nil {
		return f.handleError(ctx, logCtx, "", "failed to decode object key",
			common.NewError(common.KindInvalidEvent, "malformed object key", err))
	}
	logCtx = logCtx.With("sourceKey", sourceKey)
	logCtx.Info("Processing new storage object.")

	if _, err := keys.Extension(sourceKey); err != nil {
		return f.handleError(ctx, logCtx, "", "unsupported source object", err)
	}
	if keys.IsCompressed(sourceKey) {
		logCtx.Info("Object is already a compressed artifact. Skipping.")
		return models.OK(SkippedBody)
	}

	compressedKey, err := keys.Derive(sourceKey, keys.Compressed)
	if err != nil {
		if errors.Is(err, keys.ErrAlreadyCompressed) {
			return models.OK(SkippedBody)
		}
		return f.handleError(ctx, logCtx, "", "failed to derive compressed key", err)
	}
	logCtx = logCtx.With("compressedKey", compressedKey)

	data, err := f.blobs.Get(ctx, sourceKey)
	if err != nil {
		return f.handleError(ctx, logCtx, compressedKey, "failed to download source image", common.External("get source image", err))
	}

	compressed, size, err := imaging.Recompress(data)
	if err != nil {
		return f.handleError(ctx, logCtx, compressedKey, "failed to re-encode image", err)
	}
	logCtx.Info("Re-encoded image.", "width", size.X, "height", size.Y, "inBytes", len(data), "outBytes", len(compressed))

	opts := PutOptions{ContentType: "image/jpeg", PublicRead: true}
	if err := f.blobs.Put(ctx, compressedKey, compressed, opts); err != nil {
		return f.handleError(ctx, logCtx, compressedKey, "failed to upload compressed image", common.External("put compressed image", err))
	}

	recordArtifact(ctx, logCtx, f.jobs, models.StageCompress, sourceKey, compressedKey)

	payload := models.StagePayload{Bucket: e.Bucket, BucketKey: sourceKey}
	if err := f.trigger.Trigger(ctx, models.StageCompress.Next(), payload); err != nil {
		// The compressed artifact is valid, so it must not be overwritten.
		logCtx.Error("Failed to trigger detect-labels stage.", "error", err)
		return models.BadRequest(fmt.Sprintf("failed to trigger detect-labels stage: %v", err))
	}

	logCtx.Info("Hand-off to detect-labels complete.")
	return models.OK(compressedKey)
}

func (f *CompressFunction) handleError(ctx context.Context, logCtx *slog.Logger, artifactKey, message string, originalErr error) models.Response {
	fullError := fmt.Errorf("%s: %w", message, originalErr)
	logCtx.Error(message, "error", originalErr, "kind", common.KindOf(originalErr))
	writeDiagnostic(ctx, logCtx, f.blobs, artifactKey, fullError)
	return models.BadRequest(fullError.Error())
}
