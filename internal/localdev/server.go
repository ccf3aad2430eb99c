// Package localdev serves the pipeline's upload and query endpoints from a
// single process for local runs.
package localdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Lllllllleong/imagepipeline/internal/keys"
	"github.com/Lllllllleong/imagepipeline/internal/models"
	"github.com/Lllllllleong/imagepipeline/internal/services"
)

// Uploader starts the chain for a stored object.
type Uploader interface {
	EnqueueUpload(ctx context.Context, e models.StorageEvent) error
}

// QueryProcessor answers a Download or Match query.
type QueryProcessor interface {
	Process(ctx context.Context, q models.QueryEvent) models.Response
}

// JobRecorder creates job records and fails them when the upload cannot be
// handed to the pipeline.
type JobRecorder interface {
	services.JobSubmitter
	Update(ctx context.Context, jobID string, mutate func(*models.Job) error) error
}

// Options wires the server to its collaborators.
type Options struct {
	Bucket         string
	MaxUploadBytes int64
	Jobs           JobRecorder
	Blobs          services.BlobStore
	Uploader       Uploader
	Download       QueryProcessor
	Match          QueryProcessor
}

// Server is the gin front door.
type Server struct {
	opts   Options
	router *gin.Engine
}

// UploadResult is returned by a successful upload.
type UploadResult struct {
	JobID     string `json:"jobid"`
	SourceKey string `json:"sourceKey"`
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	s := &Server{opts: opts, router: router}
	router.GET("/health", s.handleHealth)
	router.POST("/image", s.handleUpload)
	router.GET("/download/:jobid", s.handleQuery(opts.Download))
	router.GET("/match/:source/:target", s.handleQuery(opts.Match))
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting local server.", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "imagepipeline",
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requires a file form field"})
		return
	}
	if s.opts.MaxUploadBytes > 0 && fileHeader.Size > s.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	originalName := path.Base(strings.ReplaceAll(fileHeader.Filename, "\\", "/"))
	ext, err := keys.Extension(originalName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open upload"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	if mtype := mimetype.Detect(data); !mtype.Is("image/jpeg") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("expecting a JPEG image, got %s", mtype.String())})
		return
	}

	ctx := c.Request.Context()
	jobID := uuid.NewString()
	sourceKey := SourceKey(originalName, ext, jobID)
	logCtx := slog.With("jobId", jobID, "sourceKey", sourceKey)

	// The object is stored before the job exists so a failed write leaves no
	// pending record behind.
	opts := services.PutOptions{ContentType: "image/jpeg", IfAbsent: true}
	if err := s.opts.Blobs.Put(ctx, sourceKey, data, opts); err != nil {
		logCtx.Error("Failed to store upload.", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}
	if err := s.opts.Jobs.Create(ctx, models.NewPendingJob(jobID, originalName, sourceKey)); err != nil {
		logCtx.Error("Failed to create job record.", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}
	if err := s.opts.Uploader.EnqueueUpload(ctx, models.NewStorageEvent(s.opts.Bucket, sourceKey)); err != nil {
		logCtx.Error("Failed to start pipeline.", "error", err)
		s.failJob(ctx, logCtx, jobID, sourceKey, fmt.Sprintf("failed to start pipeline: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start pipeline"})
		return
	}

	logCtx.Info("Upload accepted.", "bytes", len(data))
	c.JSON(http.StatusOK, UploadResult{JobID: jobID, SourceKey: sourceKey})
}

// failJob marks a job that will never reach the pipeline as failed.
func (s *Server) failJob(ctx context.Context, logCtx *slog.Logger, jobID, sourceKey, details string) {
	resultsKey, _ := keys.Derive(sourceKey, keys.Compressed)
	err := s.opts.Jobs.Update(ctx, jobID, func(j *models.Job) error {
		return j.Finish(models.StatusError, resultsKey, details)
	})
	if err != nil {
		logCtx.Error("Failed to mark job as failed.", "error", err)
	}
}

// SourceKey names the stored upload: the original stem, the job ID and the
// original extension.
func SourceKey(originalName, ext, jobID string) string {
	return strings.TrimSuffix(originalName, ext) + "-" + jobID + ext
}

func (s *Server) handleQuery(p QueryProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := models.QueryEvent{PathParameters: map[string]string{}}
		for _, param := range c.Params {
			q.PathParameters[param.Key] = param.Value
		}
		resp := p.Process(c.Request.Context(), q)
		c.Data(resp.StatusCode, "application/json; charset=utf-8", []byte(resp.Body))
	}
}
