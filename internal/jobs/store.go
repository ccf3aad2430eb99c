// Package jobs keeps Job Records in Redis for local and single-node runs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Lllllllleong/imagepipeline/internal/models"
	"github.com/Lllllllleong/imagepipeline/internal/services"
)

const (
	jobKeyPrefix    = "job:"
	sourceKeyPrefix = "job:source:"
	maxTxAttempts   = 8
)

// Store keeps each job as a JSON document under job:<id>, plus an index from
// the uploaded object key to the job ID.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a Store. A zero ttl keeps records forever.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Open connects to the redis server at url.
func Open(ctx context.Context, url string, ttl time.Duration) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return NewStore(rdb, ttl), nil
}

// Create stores a new job and its source-key index entry in one transaction.
func (s *Store) Create(ctx context.Context, job *models.Job) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("job with an ID is required")
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	key := jobKey(job.JobID)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return services.ErrJobExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueCreate(ctx, pipe, job, payload)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, services.ErrJobExists) {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return err
	}
	return fmt.Errorf("job %s: too many concurrent writers", job.JobID)
}

// queueCreate adds the job document and its index entry to pipe.
func (s *Store) queueCreate(ctx context.Context, pipe redis.Pipeliner, job *models.Job, payload []byte) []redis.Cmder {
	cmds := []redis.Cmder{pipe.Set(ctx, jobKey(job.JobID), payload, s.ttl)}
	if job.SourceKey != "" {
		cmds = append(cmds, pipe.Set(ctx, sourceKey(job.SourceKey), job.JobID, s.ttl))
	}
	return cmds
}

// Get loads one job.
func (s *Store) Get(ctx context.Context, jobID string) (*models.Job, error) {
	if jobID == "" {
		return nil, services.ErrJobNotFound
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, services.ErrJobNotFound
		}
		return nil, err
	}
	return decodeJob(jobID, data)
}

// FindBySourceKey follows the source-key index.
func (s *Store) FindBySourceKey(ctx context.Context, key string) (*models.Job, error) {
	jobID, err := s.rdb.Get(ctx, sourceKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, services.ErrJobNotFound
		}
		return nil, err
	}
	return s.Get(ctx, jobID)
}

// Update applies mutate under WATCH, retrying when another writer got in
// between the read and the write.
func (s *Store) Update(ctx context.Context, jobID string, mutate func(*models.Job) error) error {
	key := jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return services.ErrJobNotFound
			}
			return err
		}
		job, err := decodeJob(jobID, data)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}
		payload, err := encodeJob(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: too many concurrent updates", jobID)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func encodeJob(job *models.Job) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return payload, nil
}

func decodeJob(jobID string, data []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	job.JobID = jobID
	return &job, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func sourceKey(key string) string {
	return sourceKeyPrefix + key
}
