// Package trigger delivers stage hand-offs over transports other than
// Workflows: CloudEvents over HTTP to a broker, and an asynq queue for
// single-process runs.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// EventTypePrefix prefixes the CloudEvent type of every stage hand-off.
const EventTypePrefix = "com.imagepipeline.stage."

// EventType returns the CloudEvent type announcing stage.
func EventType(stage models.Stage) string {
	return EventTypePrefix + string(stage)
}

// CloudEventTrigger posts one binary-mode CloudEvent per hand-off to a broker.
type CloudEventTrigger struct {
	client cloudevents.Client
	target string
	source string
}

// NewCloudEventTrigger returns a trigger posting to brokerURL.
func NewCloudEventTrigger(brokerURL, source string) (*CloudEventTrigger, error) {
	if brokerURL == "" {
		return nil, fmt.Errorf("broker URL must be set")
	}
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create CloudEvents client: %w", err)
	}
	return &CloudEventTrigger{client: client, target: brokerURL, source: source}, nil
}

// Trigger sends payload to stage. A nil error means the broker accepted it.
func (t *CloudEventTrigger) Trigger(ctx context.Context, stage models.Stage, payload models.StagePayload) error {
	event, err := NewStageEvent(t.source, stage, payload)
	if err != nil {
		return err
	}
	result := t.client.Send(cloudevents.ContextWithTarget(ctx, t.target), event)
	if cloudevents.IsUndelivered(result) || !cloudevents.IsACK(result) {
		return fmt.Errorf("failed to deliver %s event: %w", stage, result)
	}
	return nil
}

// NewStageEvent builds the CloudEvent carrying a hand-off to stage.
func NewStageEvent(source string, stage models.Stage, payload models.StagePayload) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(source)
	event.SetType(EventType(stage))
	event.SetSubject(payload.BucketKey)
	if err := event.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return event, fmt.Errorf("failed to encode %s payload: %w", stage, err)
	}
	if err := event.Validate(); err != nil {
		return event, fmt.Errorf("invalid %s event: %w", stage, err)
	}
	return event, nil
}

// DecodeStagePayload reads the hand-off payload carried by event.
func DecodeStagePayload(event cloudevents.Event) (models.StagePayload, error) {
	var payload models.StagePayload
	if err := json.Unmarshal(event.Data(), &payload); err != nil {
		return payload, fmt.Errorf("json.Unmarshal: %w", err)
	}
	return payload, nil
}
