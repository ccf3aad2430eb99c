package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/imagepipeline/internal/models"
	"github.com/Lllllllleong/imagepipeline/internal/services"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// JobStore keeps one Firestore document per job, keyed by job ID.
type JobStore struct {
	client     *firestore.Client
	collection string
}

// NewJobStore returns a JobStore over the given collection.
func NewJobStore(client *firestore.Client, collection string) *JobStore {
	return &JobStore{client: client, collection: collection}
}

func (s *JobStore) doc(jobID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(jobID)
}

// Create stores a new job. It fails with services.ErrJobExists when the ID is taken.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	if _, err := s.doc(job.JobID).Create(ctx, job); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return services.ErrJobExists
		}
		return fmt.Errorf("failed to create job document: %w", err)
	}
	return nil
}

// Get loads one job.
func (s *JobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	snap, err := s.doc(jobID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, services.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job document: %w", err)
	}
	return jobFromSnapshot(snap)
}

// FindBySourceKey returns the job created for an uploaded object.
func (s *JobStore) FindBySourceKey(ctx context.Context, sourceKey string) (*models.Job, error) {
	docs, err := s.client.Collection(s.collection).Where("sourceKey", "==", sourceKey).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query job by source key: %w", err)
	}
	if len(docs) == 0 {
		return nil, services.ErrJobNotFound
	}
	return jobFromSnapshot(docs[0])
}

// Update applies mutate inside a transaction, so concurrent writers cannot
// both observe a pending status.
func (s *JobStore) Update(ctx context.Context, jobID string, mutate func(*models.Job) error) error {
	ref := s.doc(jobID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return services.ErrJobNotFound
			}
			return fmt.Errorf("failed to read job document: %w", err)
		}
		job, err := jobFromSnapshot(snap)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}
		return tx.Set(ref, job)
	})
}

// Close releases the underlying client.
func (s *JobStore) Close() error {
	return s.client.Close()
}

func jobFromSnapshot(snap *firestore.DocumentSnapshot) (*models.Job, error) {
	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job document %s: %w", snap.Ref.ID, err)
	}
	job.JobID = snap.Ref.ID
	return &job, nil
}
