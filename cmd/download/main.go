package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/imagepipeline/internal/bootstrap"
	"github.com/Lllllllleong/imagepipeline/internal/config"
	"github.com/Lllllllleong/imagepipeline/internal/services"
)

var (
	downloadInstance *services.DownloadFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("Download", handleDownload)
}

func main() {}

// handleDownload accepts GET /download/{jobid}, ?jobid= or a JSON body.
func handleDownload(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		ctx := context.Background()
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		rt, err := bootstrap.New(ctx, cfg, bootstrap.Needs{})
		if err != nil {
			initErr = err
			return
		}
		downloadInstance, initErr = services.NewDownload(rt.Deps)
	})
	if initErr != nil {
		slog.Error("Critical: download initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	q, err := bootstrap.DecodeQuery(r, "download", "jobid")
	if err != nil {
		slog.Warn("Could not decode request", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	bootstrap.WriteResponse(w, downloadInstance.Process(r.Context(), q))
}
