package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/imagepipeline/internal/common"
	"github.com/Lllllllleong/imagepipeline/internal/keys"
	"github.com/Lllllllleong/imagepipeline/internal/models"
	"golang.org/x/sync/errgroup"
)

// DownloadFunction returns the artifacts of a completed job.
type DownloadFunction struct {
	blobs BlobStore
	jobs  JobStore
}

// NewDownload creates a new DownloadFunction instance.
func NewDownload(deps Deps) (*DownloadFunction, error) {
	if deps.Blobs == nil || deps.Jobs == nil {
		return nil, fmt.Errorf("download handler requires a blob store and a job store")
	}
	return &DownloadFunction{blobs: deps.Blobs, jobs: deps.Jobs}, nil
}

// Process answers one download query.
func (f *DownloadFunction) Process(ctx context.Context, q models.QueryEvent) models.Response {
	jobID, err := ResolveParam(q, "jobid")
	if err != nil {
		return queryFailure(slog.Default(), err)
	}
	logCtx := slog.With("jobId", jobID)
	logCtx.Info("Processing download query.")

	job, err := resolveCompleted(ctx, logCtx, f.jobs, f.blobs, jobID, "no such job...")
	if err != nil {
		return queryFailure(logCtx, err)
	}

	set, err := keys.FromResultsKey(job.ResultsKey)
	if err != nil {
		return queryFailure(logCtx, err)
	}

	// --- Fetch the three artifacts concurrently ---
	var image, labels, metadata []byte
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		image, err = f.blobs.Get(gctx, set.Compressed)
		return wrapFetch(set.Compressed, err)
	})
	eg.Go(func() error {
		var err error
		labels, err = f.blobs.Get(gctx, set.Labels)
		return wrapFetch(set.Labels, err)
	})
	eg.Go(func() error {
		var err error
		metadata, err = f.blobs.Get(gctx, set.Metadata)
		return wrapFetch(set.Metadata, err)
	})
	if err := eg.Wait(); err != nil {
		return queryFailure(logCtx, err)
	}

	logCtx.Info("Download complete.", "imageBytes", len(image), "labelBytes", len(labels), "metadataBytes", len(metadata))
	return models.OK(models.DownloadResult{
		OriginalName: job.OriginalName,
		Image:        base64.StdEncoding.EncodeToString(image),
		Labels:       base64.StdEncoding.EncodeToString(labels),
		Metadata:     base64.StdEncoding.EncodeToString(metadata),
	})
}

func wrapFetch(key string, err error) error {
	if err == nil {
		return nil
	}
	return common.External("failed to fetch "+key, err)
}
