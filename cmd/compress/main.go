package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/imagepipeline/internal/bootstrap"
	"github.com/Lllllllleong/imagepipeline/internal/config"
	"github.com/Lllllllleong/imagepipeline/internal/models"
	"github.com/Lllllllleong/imagepipeline/internal/services"
)

var (
	compressInstance *services.CompressFunction
	once             sync.Once
	initErr          error
)

// gcsEvent is the payload of a Cloud Storage object-finalized event.
type gcsEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("CompressImage", compressImage)
}

// main is required by the Go Functions Framework.
func main() {}

func setup(ctx context.Context) (*services.CompressFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	rt, err := bootstrap.New(ctx, cfg, bootstrap.Needs{Trigger: true})
	if err != nil {
		return nil, err
	}
	return services.NewCompress(cfg, rt.Deps)
}

// compressImage is the Cloud Function entry point.
func compressImage(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		compressInstance, initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var obj gcsEvent
	if err := json.Unmarshal(e.Data(), &obj); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	resp := compressInstance.Process(ctx, models.NewStorageEvent(obj.Bucket, obj.Name))
	if !resp.IsSuccess() {
		// The failure is already logged with context within the Process method.
		return fmt.Errorf("compress failed: %s", resp.Body)
	}
	return nil
}
