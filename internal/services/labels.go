package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/imagepipeline/internal/common"
	"github.com/Lllllllleong/imagepipeline/internal/config"
	"github.com/Lllllllleong/imagepipeline/internal/keys"
	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// LabelsConfig holds configuration for the detect-labels stage.
type LabelsConfig struct {
	Bucket string
}

// LabelsFunction runs label detection on the original upload.
type LabelsFunction struct {
	blobs    BlobStore
	jobs     JobStore
	detector LabelDetector
	trigger  StageTrigger
	config   LabelsConfig
}

// NewLabels creates a new LabelsFunction instance.
func NewLabels(cfg *config.Config, deps Deps) (*LabelsFunction, error) {
	if deps.Blobs == nil || deps.Jobs == nil || deps.Detector == nil || deps.Trigger == nil {
		return nil, fmt.Errorf("detect-labels stage requires a blob store, a job store, a label detector and a stage trigger")
	}
	f := &LabelsFunction{
		blobs:    deps.Blobs,
		jobs:     deps.Jobs,
		detector: deps.Detector,
		trigger:  deps.Trigger,
		config:   LabelsConfig{Bucket: cfg.BucketName},
	}
	slog.Info("Detect-labels stage initialized.", "bucket", f.config.Bucket)
	return f, nil
}

// Process detects the labels of p.BucketKey and stores them one per line.
func (f *LabelsFunction) Process(ctx context.Context, p models.StagePayload) models.Response {
	logCtx := slog.With("bucket", p.Bucket, "sourceKey", p.BucketKey)
	logCtx.Info("Starting label detection.")

	if p.BucketKey == "" {
		return f.handleError(ctx, logCtx, "", "malformed stage payload",
			common.Errorf(common.KindInvalidEvent, "payload is missing bucketkey"))
	}

	labelsKey, err := keys.Derive(p.BucketKey, keys.Labels)
	if err != nil {
		return f.handleError(ctx, logCtx, "", "failed to derive labels key", err)
	}
	logCtx = logCtx.With("labelsKey", labelsKey)

	data, err := f.blobs.Get(ctx, p.BucketKey)
	if err != nil {
		return f.handleError(ctx, logCtx, labelsKey, "failed to download source image", common.External("get source image", err))
	}

	labels, err := f.detector.DetectLabels(ctx, data)
	if err != nil {
		return f.handleError(ctx, logCtx, labelsKey, "label detection failed", common.External("detect labels", err))
	}
	logCtx.Info("Labels detected.", "labelCount", len(labels))

	opts := PutOptions{ContentType: "text/plain; charset=utf-8", PublicRead: true}
	if err := f.blobs.Put(ctx, labelsKey, []byte(strings.Join(labels, "\n")), opts); err != nil {
		return f.handleError(ctx, logCtx, labelsKey, "failed to upload labels", common.External("put labels", err))
	}

	recordArtifact(ctx, logCtx, f.jobs, models.StageDetectLabels, p.BucketKey, labelsKey)

	if err := f.trigger.Trigger(ctx, models.StageDetectLabels.Next(), p); err != nil {
		logCtx.Error("Failed to trigger extract-metadata stage.", "error", err)
		return models.BadRequest(models.StageError{
			Error:        string(common.KindExternalFailure),
			ErrorMessage: fmt.Sprintf("failed to trigger extract-metadata stage: %v", err),
		})
	}

	logCtx.Info("Hand-off to extract-metadata complete.")
	return models.OK(models.LabelsResult{LabelFileName: labelsKey})
}

func (f *LabelsFunction) handleError(ctx context.Context, logCtx *slog.Logger, artifactKey, message string, originalErr error) models.Response {
	fullError := fmt.Errorf("%s: %w", message, originalErr)
	kind := common.KindOf(originalErr)
	logCtx.Error(message, "error", originalErr, "kind", kind)
	writeDiagnostic(ctx, logCtx, f.blobs, artifactKey, fullError)
	return models.BadRequest(models.StageError{
		Error:        string(kind),
		ErrorMessage: fullError.Error(),
	})
}
