package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/imagepipeline/internal/common"
	"github.com/Lllllllleong/imagepipeline/internal/histmatch"
	"github.com/Lllllllleong/imagepipeline/internal/imaging"
	"github.com/Lllllllleong/imagepipeline/internal/keys"
	"github.com/Lllllllleong/imagepipeline/internal/models"
	"golang.org/x/sync/errgroup"
)

// MatchFunction builds the histogram-matched composite of two completed jobs.
type MatchFunction struct {
	blobs BlobStore
	jobs  JobStore
}

// NewMatch creates a new MatchFunction instance.
func NewMatch(deps Deps) (*MatchFunction, error) {
	if deps.Blobs == nil || deps.Jobs == nil {
		return nil, fmt.Errorf("match handler requires a blob store and a job store")
	}
	return &MatchFunction{blobs: deps.Blobs, jobs: deps.Jobs}, nil
}

// Process answers one match query.
func (f *MatchFunction) Process(ctx context.Context, q models.QueryEvent) models.Response {
	sourceID, err := ResolveParam(q, "source")
	if err != nil {
		return queryFailure(slog.Default(), err)
	}
	targetID, err := ResolveParam(q, "target")
	if err != nil {
		return queryFailure(slog.Default(), err)
	}
	logCtx := slog.With("sourceJobId", sourceID, "targetJobId", targetID)
	logCtx.Info("Processing match query.")

	source, err := resolveCompleted(ctx, logCtx, f.jobs, f.blobs, sourceID, "no such source image...")
	if err != nil {
		return queryFailure(logCtx, err)
	}
	target, err := resolveCompleted(ctx, logCtx, f.jobs, f.blobs, targetID, "no such target image...")
	if err != nil {
		return queryFailure(logCtx, err)
	}

	sourceKeys, err := keys.FromResultsKey(source.ResultsKey)
	if err != nil {
		return queryFailure(logCtx, err)
	}
	targetKeys, err := keys.FromResultsKey(target.ResultsKey)
	if err != nil {
		return queryFailure(logCtx, err)
	}

	var sourceData, targetData []byte
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		sourceData, err = f.blobs.Get(gctx, sourceKeys.Compressed)
		return wrapFetch(sourceKeys.Compressed, err)
	})
	eg.Go(func() error {
		var err error
		targetData, err = f.blobs.Get(gctx, targetKeys.Compressed)
		return wrapFetch(targetKeys.Compressed, err)
	})
	if err := eg.Wait(); err != nil {
		return queryFailure(logCtx, err)
	}

	encoded, err := composite(sourceData, targetData)
	if err != nil {
		return queryFailure(logCtx, err)
	}

	logCtx.Info("Match complete.", "compositeBytes", len(encoded))
	return models.OK(models.MatchResult{
		Data:   base64.StdEncoding.EncodeToString(encoded),
		Source: source.OriginalName,
		Target: target.OriginalName,
	})
}

func composite(sourceData, targetData []byte) ([]byte, error) {
	src, err := imaging.Decode(sourceData)
	if err != nil {
		return nil, fmt.Errorf("source image: %w", err)
	}
	tgt, err := imaging.Decode(targetData)
	if err != nil {
		return nil, fmt.Errorf("target image: %w", err)
	}
	out, err := histmatch.Match(src, tgt)
	if errors.Is(err, histmatch.ErrChannelMismatch) {
		return nil, common.NewError(common.KindChannelMismatch, "histogram matching failed", err)
	}
	if err != nil {
		return nil, fmt.Errorf("histogram matching failed: %w", err)
	}
	return imaging.EncodeJPEG(out)
}
