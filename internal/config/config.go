// Package config builds the configuration object handed to every stage
// function and query handler.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Job store backends.
const (
	JobStoreFirestore = "firestore"
	JobStorePostgres  = "postgres"
	JobStoreRedis     = "redis"
)

// Blob store backends.
const (
	BlobStoreGCS   = "gcs"
	BlobStoreLocal = "local"
)

// Stage trigger backends.
const (
	TriggerWorkflows   = "workflows"
	TriggerCloudEvents = "cloudevents"
	TriggerAsynq       = "asynq"
)

// Config holds every setting read from the environment.
type Config struct {
	// StorageProfile is the credentials file used by the cloud clients. Empty
	// means application default credentials.
	StorageProfile string
	// DatabaseEndpoint is interpreted by the job store backend: a project ID
	// for firestore, a DSN for postgres, a redis URL for redis.
	DatabaseEndpoint string
	BucketName       string

	ProjectID     string
	JobStore      string
	JobCollection string
	BlobStore     string
	LocalDataDir  string

	Trigger          string
	WorkflowID       string
	WorkflowLocation string
	BrokerURL        string
	EventSource      string
	QueueRedisURL    string

	VertexAIRegion string
	LabelModel     string
	MaxLabels      int

	ListenAddr      string
	MaxUploadBytes  int64
	WorkerCount     int
	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment. A .env.local file in the
// working directory or its parent is loaded first when present.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		StorageProfile:   getEnv("STORAGE_PROFILE", ""),
		DatabaseEndpoint: getEnv("DATABASE_ENDPOINT", ""),
		BucketName:       getEnv("BUCKET_NAME", ""),

		ProjectID:     getEnv("PROJECT_ID", ""),
		JobStore:      getEnv("JOB_STORE", JobStoreFirestore),
		JobCollection: getEnv("FIRESTORE_COLLECTION", "jobs"),
		BlobStore:     getEnv("BLOB_STORE", BlobStoreGCS),
		LocalDataDir:  getEnv("LOCAL_DATA_DIR", "./data"),

		Trigger:          getEnv("TRIGGER", TriggerWorkflows),
		WorkflowID:       getEnv("WORKFLOW_ID", "image-stage-dispatcher"),
		WorkflowLocation: getEnv("WORKFLOW_LOCATION", "us-central1"),
		BrokerURL:        getEnv("BROKER_URL", ""),
		EventSource:      getEnv("EVENT_SOURCE", "imagepipeline"),
		QueueRedisURL:    getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),

		VertexAIRegion: getEnv("VERTEX_AI_REGION", "us-central1"),
		LabelModel:     getEnv("LABEL_MODEL", "gemini-1.5-flash"),
		MaxLabels:      getEnvAsInt("MAX_LABELS", 20),

		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		MaxUploadBytes:  getEnvAsInt64("MAX_UPLOAD_BYTES", 20*1024*1024),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 4),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if cfg.DatabaseEndpoint == "" && cfg.JobStore == JobStoreFirestore {
		cfg.DatabaseEndpoint = cfg.ProjectID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}
	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate checks the settings required by the selected backends.
func (c *Config) Validate() error {
	switch c.JobStore {
	case JobStoreFirestore, JobStorePostgres, JobStoreRedis:
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.JobStore)
	}
	if c.DatabaseEndpoint == "" {
		return fmt.Errorf("DATABASE_ENDPOINT environment variable must be set for the %s job store", c.JobStore)
	}

	switch c.BlobStore {
	case BlobStoreGCS:
		if c.BucketName == "" {
			return fmt.Errorf("BUCKET_NAME environment variable must be set")
		}
	case BlobStoreLocal:
		if c.LocalDataDir == "" {
			return fmt.Errorf("LOCAL_DATA_DIR environment variable must be set")
		}
	default:
		return fmt.Errorf("unknown BLOB_STORE %q", c.BlobStore)
	}

	switch c.Trigger {
	case TriggerWorkflows:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID environment variable must be set for the workflows trigger")
		}
	case TriggerCloudEvents:
		if c.BrokerURL == "" {
			return fmt.Errorf("BROKER_URL environment variable must be set for the cloudevents trigger")
		}
	case TriggerAsynq:
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL environment variable must be set for the asynq trigger")
		}
	default:
		return fmt.Errorf("unknown TRIGGER %q", c.Trigger)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsInt64(key string, fallback int64) int64 {
	value, err := strconv.ParseInt(getEnv(key, ""), 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}
