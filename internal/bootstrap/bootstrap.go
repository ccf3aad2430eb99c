// Package bootstrap builds the collaborators selected by the configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/imagepipeline/internal/config"
	"github.com/Lllllllleong/imagepipeline/internal/gcp"
	"github.com/Lllllllleong/imagepipeline/internal/jobs"
	"github.com/Lllllllleong/imagepipeline/internal/postgres"
	"github.com/Lllllllleong/imagepipeline/internal/services"
	localstorage "github.com/Lllllllleong/imagepipeline/internal/storage"
	"github.com/Lllllllleong/imagepipeline/internal/trigger"
)

// Needs selects the optional collaborators to build.
type Needs struct {
	Detector bool
	Trigger  bool
}

// Runtime holds the built collaborators and releases them on Close.
type Runtime struct {
	Deps      services.Deps
	Submitter services.JobRegistry
	// Queue is set when the asynq trigger is selected.
	Queue   *trigger.AsynqTrigger
	closers []func() error
}

// New builds a Runtime for cfg. Partially built collaborators are closed on
// error.
func New(ctx context.Context, cfg *config.Config, needs Needs) (*Runtime, error) {
	rt := &Runtime{}
	if err := rt.build(ctx, cfg, needs); err != nil {
		_ = rt.Close()
		return nil, err
	}
	slog.Info("Runtime initialized.",
		"jobStore", cfg.JobStore,
		"blobStore", cfg.BlobStore,
		"trigger", cfg.Trigger,
		"detector", needs.Detector,
	)
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, cfg *config.Config, needs Needs) error {
	var opts []option.ClientOption
	if cfg.StorageProfile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.StorageProfile))
	}

	if err := rt.buildBlobStore(ctx, cfg, opts); err != nil {
		return err
	}
	if err := rt.buildJobStore(ctx, cfg, opts); err != nil {
		return err
	}
	if needs.Detector {
		vertex, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.LabelModel, cfg.MaxLabels, opts...)
		if err != nil {
			return fmt.Errorf("failed to create Vertex AI client: %w", err)
		}
		rt.Deps.Detector = vertex
		rt.closers = append(rt.closers, vertex.Close)
	}
	if needs.Trigger {
		return rt.buildTrigger(ctx, cfg, opts)
	}
	return nil
}

func (rt *Runtime) buildBlobStore(ctx context.Context, cfg *config.Config, opts []option.ClientOption) error {
	switch cfg.BlobStore {
	case config.BlobStoreLocal:
		local, err := localstorage.NewLocalStore(cfg.LocalDataDir)
		if err != nil {
			return err
		}
		rt.Deps.Blobs = local
	default:
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create Storage client: %w", err)
		}
		blobs := gcp.NewBlobStore(client, cfg.BucketName)
		rt.Deps.Blobs = blobs
		rt.closers = append(rt.closers, blobs.Close)
	}
	return nil
}

func (rt *Runtime) buildJobStore(ctx context.Context, cfg *config.Config, opts []option.ClientOption) error {
	switch cfg.JobStore {
	case config.JobStorePostgres:
		store, err := postgres.Open(ctx, postgres.DefaultConfig(cfg.DatabaseEndpoint), slog.Default())
		if err != nil {
			return err
		}
		rt.Deps.Jobs, rt.Submitter = store, store
		rt.closers = append(rt.closers, func() error { store.Close(); return nil })
	case config.JobStoreRedis:
		store, err := jobs.Open(ctx, cfg.DatabaseEndpoint, 0)
		if err != nil {
			return err
		}
		rt.Deps.Jobs, rt.Submitter = store, store
		rt.closers = append(rt.closers, store.Close)
	default:
		client, err := gcp.NewFirestoreClient(ctx, cfg.DatabaseEndpoint, opts...)
		if err != nil {
			return err
		}
		store := gcp.NewJobStore(client, cfg.JobCollection)
		rt.Deps.Jobs, rt.Submitter = store, store
		rt.closers = append(rt.closers, store.Close)
	}
	return nil
}

func (rt *Runtime) buildTrigger(ctx context.Context, cfg *config.Config, opts []option.ClientOption) error {
	switch cfg.Trigger {
	case config.TriggerCloudEvents:
		t, err := trigger.NewCloudEventTrigger(cfg.BrokerURL, cfg.EventSource)
		if err != nil {
			return err
		}
		rt.Deps.Trigger = t
	case config.TriggerAsynq:
		t, err := trigger.NewAsynqTrigger(cfg.QueueRedisURL)
		if err != nil {
			return err
		}
		rt.Deps.Trigger, rt.Queue = t, t
		rt.closers = append(rt.closers, t.Close)
	default:
		client, err := executions.NewClient(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		t := gcp.NewWorkflowTrigger(client, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		rt.Deps.Trigger = t
		rt.closers = append(rt.closers, t.Close)
	}
	return nil
}

// Close releases every collaborator, newest first.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
