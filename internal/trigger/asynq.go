package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Lllllllleong/imagepipeline/internal/models"
)

const queueName = "pipeline"

// TaskType returns the asynq task type that runs stage.
func TaskType(stage models.Stage) string {
	return "stage:" + string(stage)
}

// AsynqTrigger enqueues hand-offs on a Redis-backed asynq queue.
type AsynqTrigger struct {
	client *asynq.Client
}

// NewAsynqTrigger connects to the queue at redisURL.
func NewAsynqTrigger(redisURL string) (*AsynqTrigger, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &AsynqTrigger{client: asynq.NewClient(opt)}, nil
}

// Trigger enqueues payload for stage. Tasks are never retried by the queue.
func (t *AsynqTrigger) Trigger(ctx context.Context, stage models.Stage, payload models.StagePayload) error {
	if stage == "" {
		return fmt.Errorf("no stage to trigger")
	}
	return t.enqueue(ctx, TaskType(stage), payload)
}

// EnqueueUpload starts the chain for a newly stored object.
func (t *AsynqTrigger) EnqueueUpload(ctx context.Context, e models.StorageEvent) error {
	return t.enqueue(ctx, TaskType(models.StageCompress), e)
}

func (t *AsynqTrigger) enqueue(ctx context.Context, taskType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	task := asynq.NewTask(taskType, body, asynq.Queue(queueName))
	info, err := t.client.EnqueueContext(ctx, task, asynq.MaxRetry(0))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	slog.Debug("Enqueued stage task.", "taskType", taskType, "taskId", info.ID)
	return nil
}

// Close releases the queue connection.
func (t *AsynqTrigger) Close() error {
	return t.client.Close()
}

// StorageProcessor handles new-object notifications.
type StorageProcessor interface {
	Process(ctx context.Context, e models.StorageEvent) models.Response
}

// StageProcessor handles a hand-off from the previous stage.
type StageProcessor interface {
	Process(ctx context.Context, p models.StagePayload) models.Response
}

// Handlers are the stage functions run by a worker.
type Handlers struct {
	Compress        StorageProcessor
	DetectLabels    StageProcessor
	ExtractMetadata StageProcessor
}

// NewServeMux routes each stage task type to its handler. A 400 response
// fails the task without retry.
func NewServeMux(h Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskType(models.StageCompress), func(ctx context.Context, task *asynq.Task) error {
		var e models.StorageEvent
		if err := json.Unmarshal(task.Payload(), &e); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return responseError(models.StageCompress, h.Compress.Process(ctx, e))
	})
	for stage, handler := range map[models.Stage]StageProcessor{
		models.StageDetectLabels:    h.DetectLabels,
		models.StageExtractMetadata: h.ExtractMetadata,
	} {
		mux.HandleFunc(TaskType(stage), stageHandler(stage, handler))
	}
	return mux
}

func stageHandler(stage models.Stage, handler StageProcessor) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p models.StagePayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return responseError(stage, handler.Process(ctx, p))
	}
}

func responseError(stage models.Stage, resp models.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%w: %s stage failed: %s", asynq.SkipRetry, stage, resp.Body)
}

// Worker runs stage tasks from the queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker returns a worker with the given concurrency.
func NewWorker(redisURL string, concurrency int, h Handlers) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
	})
	return &Worker{server: server, mux: NewServeMux(h)}, nil
}

// Start runs the worker in the background.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Shutdown waits for running tasks and stops the worker.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
