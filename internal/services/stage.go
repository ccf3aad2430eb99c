package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Lllllllleong/imagepipeline/internal/models"
)

var diagnosticOptions = PutOptions{ContentType: "text/plain; charset=utf-8", PublicRead: true}

// writeDiagnostic stores the failure text under key. It never fails the caller:
// the stage is already on its error path.
func writeDiagnostic(ctx context.Context, logCtx *slog.Logger, blobs BlobStore, key string, failure error) {
	if key == "" {
		return
	}
	if err := blobs.Put(ctx, key, []byte(failure.Error()), diagnosticOptions); err != nil {
		logCtx.Error("Failed to write diagnostic artifact.", "key", key, "error", err)
		return
	}
	logCtx.Info("Wrote diagnostic artifact.", "key", key)
}

// recordArtifact stores the artifact pointer of stage on the job created for
// sourceKey. A missing or terminal job is logged and skipped.
func recordArtifact(ctx context.Context, logCtx *slog.Logger, jobs JobStore, stage models.Stage, sourceKey, artifactKey string) {
	job, err := jobs.FindBySourceKey(ctx, sourceKey)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			logCtx.Warn("No job record for source key, artifact pointer not recorded.", "stage", stage)
		} else {
			logCtx.Error("Failed to look up job record.", "stage", stage, "error", err)
		}
		return
	}
	err = jobs.Update(ctx, job.JobID, func(j *models.Job) error {
		return j.RecordArtifact(stage, artifactKey)
	})
	switch {
	case err == nil:
		logCtx.Info("Recorded artifact pointer.", "jobId", job.JobID, "stage", stage, "artifactKey", artifactKey)
	case errors.Is(err, models.ErrTerminalStatus):
		logCtx.Info("Job already terminal, artifact pointer not recorded.", "jobId", job.JobID, "stage", stage)
	default:
		logCtx.Error("Failed to record artifact pointer.", "jobId", job.JobID, "stage", stage, "error", err)
	}
}
