package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/imagepipeline/internal/bootstrap"
	"github.com/Lllllllleong/imagepipeline/internal/config"
	"github.com/Lllllllleong/imagepipeline/internal/models"
	"github.com/Lllllllleong/imagepipeline/internal/services"
	"github.com/Lllllllleong/imagepipeline/internal/trigger"
)

var (
	labelsInstance *services.LabelsFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Called by the stage dispatcher workflow.
	functions.HTTP("DetectLabels", handleDetectLabels)
	// Called by a CloudEvents broker.
	functions.CloudEvent("DetectLabelsEvent", detectLabelsEvent)
}

func main() {}

func instance() (*services.LabelsFunction, error) {
	once.Do(func() {
		ctx := context.Background()
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		rt, err := bootstrap.New(ctx, cfg, bootstrap.Needs{Detector: true, Trigger: true})
		if err != nil {
			initErr = err
			return
		}
		labelsInstance, initErr = services.NewLabels(cfg, rt.Deps)
	})
	return labelsInstance, initErr
}

func handleDetectLabels(w http.ResponseWriter, r *http.Request) {
	f, err := instance()
	if err != nil {
		slog.Error("Critical: detect-labels initialization failed", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var payload models.StagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	bootstrap.WriteResponse(w, f.Process(r.Context(), payload))
}

func detectLabelsEvent(ctx context.Context, e cloudevents.Event) error {
	f, err := instance()
	if err != nil {
		slog.Error("Critical error during function initialization", "error", err)
		return err
	}
	payload, err := trigger.DecodeStagePayload(e)
	if err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID())
		return err
	}
	if resp := f.Process(ctx, payload); !resp.IsSuccess() {
		return fmt.Errorf("detect-labels failed: %s", resp.Body)
	}
	return nil
}
