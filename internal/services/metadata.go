package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/imagepipeline/internal/common"
	"github.com/Lllllllleong/imagepipeline/internal/config"
	"github.com/Lllllllleong/imagepipeline/internal/imaging"
	"github.com/Lllllllleong/imagepipeline/internal/keys"
	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// MetadataConfig holds configuration for the extract-metadata stage.
type MetadataConfig struct {
	Bucket string
}

// MetadataFunction extracts capture metadata and closes the job. It is the
// only stage that writes a terminal status.
type MetadataFunction struct {
	blobs  BlobStore
	jobs   JobStore
	config MetadataConfig
}

// NewMetadata creates a new MetadataFunction instance.
func NewMetadata(cfg *config.Config, deps Deps) (*MetadataFunction, error) {
	if deps.Blobs == nil || deps.Jobs == nil {
		return nil, fmt.Errorf("extract-metadata stage requires a blob store and a job store")
	}
	f := &MetadataFunction{
		blobs:  deps.Blobs,
		jobs:   deps.Jobs,
		config: MetadataConfig{Bucket: cfg.BucketName},
	}
	slog.Info("Extract-metadata stage initialized.", "bucket", f.config.Bucket)
	return f, nil
}

// Process writes the metadata artifact of p.BucketKey and finishes its job.
func (f *MetadataFunction) Process(ctx context.Context, p models.StagePayload) models.Response {
	logCtx := slog.With("bucket", p.Bucket, "sourceKey", p.BucketKey)
	logCtx.Info("Starting metadata extraction.")

	if p.BucketKey == "" {
		err := common.Errorf(common.KindInvalidEvent, "payload is missing bucketkey")
		logCtx.Error("Malformed stage payload.", "error", err)
		return models.BadRequest(err.Error())
	}

	set, err := keys.DeriveAll(p.BucketKey)
	if err != nil {
		// Nothing was derived, so there is neither an artifact nor a results key to write.
		if common.IsKind(err, common.KindUnsupportedFormat) {
			logCtx.Warn("Unsupported source object.", "error", err)
		} else {
			logCtx.Error("Failed to derive artifact keys.", "error", err)
		}
		return models.BadRequest(err.Error())
	}
	logCtx = logCtx.With("metadataKey", set.Metadata)

	data, err := f.blobs.Get(ctx, p.BucketKey)
	if err != nil {
		return f.handleError(ctx, logCtx, set, "failed to download source image", common.External("get source image", err))
	}

	md, err := imaging.ExtractMetadata(data)
	if err != nil {
		return f.handleError(ctx, logCtx, set, "failed to extract metadata", err)
	}
	logCtx.Info("Metadata extracted.", "fieldCount", len(md))

	opts := PutOptions{ContentType: "text/plain; charset=utf-8", PublicRead: true}
	if err := f.blobs.Put(ctx, set.Metadata, []byte(imaging.FormatMetadata(md)), opts); err != nil {
		return f.handleError(ctx, logCtx, set, "failed to upload metadata", common.External("put metadata", err))
	}

	if err := f.finishJob(ctx, logCtx, set, models.StatusCompleted, ""); err != nil {
		logCtx.Error("Failed to mark job completed.", "error", err)
		return models.BadRequest(fmt.Sprintf("failed to mark job completed: %v", err))
	}

	logCtx.Info("Pipeline complete.")
	return models.OK(set.Metadata)
}

func (f *MetadataFunction) handleError(ctx context.Context, logCtx *slog.Logger, set keys.Set, message string, originalErr error) models.Response {
	fullError := fmt.Errorf("%s: %w", message, originalErr)
	logCtx.Error(message, "error", originalErr, "kind", common.KindOf(originalErr))
	writeDiagnostic(ctx, logCtx, f.blobs, set.Metadata, fullError)
	if err := f.finishJob(ctx, logCtx, set, models.StatusError, fullError.Error()); err != nil {
		logCtx.Error("CRITICAL: Failed to update job status to error after a processing error.", "updateError", err)
	}
	return models.BadRequest(fullError.Error())
}

// finishJob moves the job of set.Source into status. A missing or terminal
// job is logged and reported as success.
func (f *MetadataFunction) finishJob(ctx context.Context, logCtx *slog.Logger, set keys.Set, status models.Status, details string) error {
	job, err := f.jobs.FindBySourceKey(ctx, set.Source)
	if errors.Is(err, ErrJobNotFound) {
		logCtx.Warn("No job record for source key, status not updated.", "status", status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up job: %w", err)
	}

	err = f.jobs.Update(ctx, job.JobID, func(j *models.Job) error {
		if err := j.RecordArtifact(models.StageExtractMetadata, set.Metadata); err != nil {
			return err
		}
		return j.Finish(status, set.Compressed, details)
	})
	if errors.Is(err, models.ErrTerminalStatus) {
		logCtx.Info("Job already terminal, status not updated.", "jobId", job.JobID, "status", status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.JobID, err)
	}
	logCtx.Info("Job status updated.", "jobId", job.JobID, "status", status)
	return nil
}
