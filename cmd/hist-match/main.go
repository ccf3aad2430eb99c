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
	matchInstance *services.MatchFunction
	once          sync.Once
	initErr       error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HistMatch", handleMatch)
}

func main() {}

// handleMatch accepts GET /match/{source}/{target}, query parameters or a JSON body.
func handleMatch(w http.ResponseWriter, r *http.Request) {
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
		matchInstance, initErr = services.NewMatch(rt.Deps)
	})
	if initErr != nil {
		slog.Error("Critical: hist-match initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	q, err := bootstrap.DecodeQuery(r, "match", "source", "target")
	if err != nil {
		slog.Warn("Could not decode request", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	bootstrap.WriteResponse(w, matchInstance.Process(r.Context(), q))
}
