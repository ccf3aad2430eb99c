// Command localdev runs the whole pipeline in one process: the gin front door,
// the asynq worker for all three stages and the query handlers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/imagepipeline/internal/bootstrap"
	"github.com/Lllllllleong/imagepipeline/internal/config"
	"github.com/Lllllllleong/imagepipeline/internal/localdev"
	"github.com/Lllllllleong/imagepipeline/internal/services"
	"github.com/Lllllllleong/imagepipeline/internal/trigger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("localdev exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Trigger != config.TriggerAsynq {
		return fmt.Errorf("localdev requires TRIGGER=%s, got %q", config.TriggerAsynq, cfg.Trigger)
	}

	rt, err := bootstrap.New(ctx, cfg, bootstrap.Needs{Detector: true, Trigger: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("Failed to close runtime cleanly.", "error", err)
		}
	}()
	if rt.Queue == nil {
		return errors.New("asynq trigger was not built")
	}

	compress, err := services.NewCompress(cfg, rt.Deps)
	if err != nil {
		return err
	}
	labels, err := services.NewLabels(cfg, rt.Deps)
	if err != nil {
		return err
	}
	metadata, err := services.NewMetadata(cfg, rt.Deps)
	if err != nil {
		return err
	}
	download, err := services.NewDownload(rt.Deps)
	if err != nil {
		return err
	}
	match, err := services.NewMatch(rt.Deps)
	if err != nil {
		return err
	}

	worker, err := trigger.NewWorker(cfg.QueueRedisURL, cfg.WorkerCount, trigger.Handlers{
		Compress:        compress,
		DetectLabels:    labels,
		ExtractMetadata: metadata,
	})
	if err != nil {
		return err
	}
	if err := worker.Start(); err != nil {
		return err
	}
	defer worker.Shutdown()

	server := localdev.NewServer(localdev.Options{
		Bucket:         cfg.BucketName,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Jobs:           rt.Submitter,
		Blobs:          rt.Deps.Blobs,
		Uploader:       rt.Queue,
		Download:       download,
		Match:          match,
	})
	return server.Run(ctx, cfg.ListenAddr, cfg.ShutdownTimeout)
}
