package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// WorkflowTrigger starts one execution of the stage dispatcher workflow per
// hand-off. CreateExecution returns once the execution is queued, so the
// calling stage never waits for the next one.
type WorkflowTrigger struct {
	client *executions.Client
	parent string
}

// NewWorkflowTrigger returns a trigger for the given workflow.
func NewWorkflowTrigger(client *executions.Client, projectID, location, workflowID string) *WorkflowTrigger {
	return &WorkflowTrigger{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

// Trigger queues stage with payload.
func (t *WorkflowTrigger) Trigger(ctx context.Context, stage models.Stage, payload models.StagePayload) error {
	if stage == "" {
		return fmt.Errorf("no stage to trigger")
	}
	argument, err := workflowArgument(stage, payload)
	if err != nil {
		return err
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: t.parent,
		Execution: &executionspb.Execution{
			Argument: argument,
		},
	}
	if _, err := t.client.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (t *WorkflowTrigger) Close() error {
	return t.client.Close()
}

func workflowArgument(stage models.Stage, payload models.StagePayload) (string, error) {
	workflowPayload := map[string]interface{}{
		"stage":     string(stage),
		"bucket":    payload.Bucket,
		"bucketkey": payload.BucketKey,
	}
	payloadBytes, err := json.Marshal(workflowPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return string(payloadBytes), nil
}
