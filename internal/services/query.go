package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/imagepipeline/internal/common"
	"github.com/Lllllllleong/imagepipeline/internal/keys"
	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// PendingBody is the body reported for a job that has not finished yet.
const PendingBody = "pending"

// resolveCompleted loads jobID and returns it only when it completed. Every
// other outcome comes back as a common.Error whose text is the response body.
func resolveCompleted(ctx context.Context, logCtx *slog.Logger, jobs JobStore, blobs BlobStore, jobID, notFound string) (*models.Job, error) {
	job, err := jobs.Get(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		logCtx.Info("No such job.", "jobId", jobID)
		return nil, common.NewError(common.KindNotFound, notFound, nil)
	}
	if err != nil {
		return nil, common.External("failed to load job "+jobID, err)
	}

	if !job.Status.IsKnown() {
		logCtx.Warn("Job has an unknown status.", "jobId", jobID, "status", job.Status)
		return nil, common.Errorf(common.KindUnexpectedState, "ERROR: unexpected job status: %s", job.Status)
	}
	switch job.Status {
	case models.StatusCompleted:
		return job, nil
	case models.StatusPending:
		logCtx.Info("Job is still pending.", "jobId", jobID)
		return nil, common.NewError(common.KindPending, PendingBody, nil)
	default:
		return nil, failedJobError(ctx, logCtx, blobs, job)
	}
}

// failedJobError reads the diagnostic artifact of a failed job and reports its
// first line.
func failedJobError(ctx context.Context, logCtx *slog.Logger, blobs BlobStore, job *models.Job) error {
	unknown := common.NewError(common.KindUnknownError, "ERROR: unknown", nil)

	set, err := keys.FromResultsKey(job.ResultsKey)
	if err != nil {
		logCtx.Warn("Failed job has no usable results key.", "jobId", job.JobID, "resultsKey", job.ResultsKey, "error", err)
		return unknown
	}
	data, err := blobs.Get(ctx, set.Metadata)
	if err != nil {
		if !errors.Is(err, ErrObjectNotFound) {
			logCtx.Warn("Failed to read diagnostic artifact.", "jobId", job.JobID, "key", set.Metadata, "error", err)
		}
		return unknown
	}

	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return unknown
	}
	return common.NewError(common.KindJobFailed, fmt.Sprintf("ERROR: %s", line), nil)
}

// queryFailure turns a resolution or processing error into the 400 response.
func queryFailure(logCtx *slog.Logger, err error) models.Response {
	kind := common.KindOf(err)
	switch kind {
	case common.KindPending, common.KindNotFound, common.KindJobFailed, common.KindUnknownError:
		logCtx.Info("Query not answerable.", "kind", kind, "reason", common.Text(err))
	default:
		logCtx.Error("Query failed.", "kind", kind, "error", err)
	}
	return models.BadRequest(common.Text(err))
}
