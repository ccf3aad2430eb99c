package models

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ErrTerminalStatus is returned when a write targets a job that already reached
// completed or error.
var ErrTerminalStatus = errors.New("job is already in a terminal status")

var allowedTransitions = map[Status]map[Status]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusCompleted: true,
		StatusError:     true,
	},
	StatusCompleted: {},
	StatusError:     {},
}

// IsKnown reports whether s is one of the defined statuses.
func (s Status) IsKnown() bool {
	_, ok := allowedTransitions[s]
	return ok && s != ""
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Job is the persisted record of one pipeline run.
type Job struct {
	JobID         string    `firestore:"-" json:"jobId"`
	Status        Status    `firestore:"status" json:"status"`
	OriginalName  string    `firestore:"originalName" json:"originalName"`
	SourceKey     string    `firestore:"sourceKey" json:"sourceKey"`
	ResultsKey    string    `firestore:"resultsKey" json:"resultsKey"`
	CompressedKey string    `firestore:"compressedKey,omitempty" json:"compressedKey,omitempty"`
	LabelsKey     string    `firestore:"labelsKey,omitempty" json:"labelsKey,omitempty"`
	MetadataKey   string    `firestore:"metadataKey,omitempty" json:"metadataKey,omitempty"`
	ErrorDetails  string    `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// NewPendingJob returns a freshly submitted job.
func NewPendingJob(jobID, originalName, sourceKey string) *Job {
	now := time.Now().UTC()
	return &Job{
		JobID:        jobID,
		Status:       StatusPending,
		OriginalName: originalName,
		SourceKey:    sourceKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Finish moves the job into a terminal status. resultsKey points at the
// compressed artifact; details is kept only for the error status.
func (j *Job) Finish(status Status, resultsKey, details string) error {
	if j.Status.IsTerminal() {
		return ErrTerminalStatus
	}
	if !CanTransition(j.Status, status) {
		return fmt.Errorf("illegal job status transition %q -> %q", j.Status, status)
	}
	j.Status = status
	j.ResultsKey = resultsKey
	if status == StatusError {
		j.ErrorDetails = details
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordArtifact stores the artifact pointer produced by a stage.
func (j *Job) RecordArtifact(stage Stage, key string) error {
	if j.Status.IsTerminal() {
		return ErrTerminalStatus
	}
	switch stage {
	case StageCompress:
		j.CompressedKey = key
	case StageDetectLabels:
		j.LabelsKey = key
	case StageExtractMetadata:
		j.MetadataKey = key
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}
