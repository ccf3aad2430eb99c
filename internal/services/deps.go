package services

import (
	"context"
	"errors"

	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// ErrObjectNotFound is returned by a BlobStore when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ErrObjectExists is returned by a conditional Put when the key is taken.
var ErrObjectExists = errors.New("object already exists")

// ErrJobNotFound is returned by a JobStore when no record matches.
var ErrJobNotFound = errors.New("job not found")

// ErrJobExists is returned by a JobSubmitter when the job ID is taken.
var ErrJobExists = errors.New("job already exists")

// PutOptions controls how an artifact is stored.
type PutOptions struct {
	ContentType string
	PublicRead  bool
	// IfAbsent makes the write fail with ErrObjectExists instead of
	// replacing an existing object.
	IfAbsent bool
}

// BlobStore is the object storage the pipeline reads sources from and writes
// artifacts to.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Exists(ctx context.Context, key string) (bool, error)
}

// JobStore persists Job Records. Update applies mutate atomically to the
// stored record; an error from mutate aborts the write and is returned as is.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*models.Job, error)
	FindBySourceKey(ctx context.Context, sourceKey string) (*models.Job, error)
	Update(ctx context.Context, jobID string, mutate func(*models.Job) error) error
}

// JobSubmitter creates new Job Records. Stores implementing it also satisfy
// JobStore.
type JobSubmitter interface {
	Create(ctx context.Context, job *models.Job) error
}

// JobRegistry is a JobStore that can also create records.
type JobRegistry interface {
	JobStore
	JobSubmitter
}

// LabelDetector returns the labels found in an image, most confident first.
type LabelDetector interface {
	DetectLabels(ctx context.Context, image []byte) ([]string, error)
}

// StageTrigger hands a payload to the given stage without waiting for it to
// run. A nil error only means the message was accepted for delivery.
type StageTrigger interface {
	Trigger(ctx context.Context, stage models.Stage, payload models.StagePayload) error
}

// Deps bundles the collaborators shared by every stage function.
type Deps struct {
	Blobs    BlobStore
	Jobs     JobStore
	Detector LabelDetector
	Trigger  StageTrigger
}
