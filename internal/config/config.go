// Package config provides environment variable-based configuration loading.
//
// Purpose:
//
//	This package defines the platform configuration structure and provides
//	functions to load configuration from environment variables using envconfig.
//	All binaries (identity-api, content-api, ingest-worker) share this
//	configuration structure.
//
// Dependencies:
//   - github.com/kelseyhightower/envconfig: Environment variable parsing
//
// Key Responsibilities:
//   - Config struct defines all service configuration fields
//   - Load reads and validates environment variables
//   - MustLoad exits the process if configuration is invalid
//
// Debugging Notes:
//   - Required fields: DATABASE_URL, JWT_SECRET
//   - Defaults match the documented platform defaults (chunk size 1000,
//     overlap 200, embedding dim 768, 5 concurrent jobs, 50 MiB upload cap)
//   - Redis is optional (credential cache degrades to direct DB lookups)
//   - LOCAL_TEST_MODE bypasses Kafka entirely (log-only publisher)
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents shared runtime configuration for all platform binaries.
// All fields are populated from environment variables with defaults where
// specified. Required fields must be set or Load/MustLoad will return an error.
type Config struct {
	// ServiceName is emitted in logs and metrics.
	ServiceName string `envconfig:"SERVICE_NAME" default:"faqforge"`
	// Port is the port the HTTP server listens on.
	Port int `envconfig:"PORT" default:"8080"`
	// Environment describes the current deployment environment.
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	// LogLevel controls zerolog global level (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// CORSOrigin is the allowed origin for browser clients.
	CORSOrigin string `envconfig:"CORS_ORIGIN" default:""`

	// DatabaseURL is the Postgres connection string for the primary database.
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// JWTSecret signs access and refresh tokens (HMAC-SHA256).
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// AccessTokenTTLSeconds is the access token lifetime (default 15 min).
	AccessTokenTTLSeconds int `envconfig:"ACCESS_TOKEN_TTL_SECONDS" default:"900"`
	// RefreshTokenTTLSeconds is the refresh token lifetime (default 7 days).
	RefreshTokenTTLSeconds int `envconfig:"REFRESH_TOKEN_TTL_SECONDS" default:"604800"`
	// LockoutMaxAttempts is the failed-login count that triggers a lockout.
	LockoutMaxAttempts int `envconfig:"LOCKOUT_MAX_ATTEMPTS" default:"5"`
	// LockoutDurationMinutes is how long a locked account stays locked.
	LockoutDurationMinutes int `envconfig:"LOCKOUT_DURATION_MINUTES" default:"30"`
	// HMACWindowSeconds is the allowed clock skew for signed requests (±).
	HMACWindowSeconds int `envconfig:"HMAC_WINDOW_SECONDS" default:"300"`

	// RedisAddr is the optional host:port of Redis for credential caching.
	RedisAddr string `envconfig:"REDIS_ADDR" default:""`
	// RedisPassword is the optional password for Redis authentication.
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	// RedisDB selects the logical Redis database index.
	RedisDB int `envconfig:"REDIS_DB" default:"0"`

	// StorageType selects the object store backend: s3, minio or local.
	StorageType string `envconfig:"STORAGE_TYPE" default:"s3"`
	// StoragePath is the filesystem root for STORAGE_TYPE=local.
	StoragePath string `envconfig:"STORAGE_PATH" default:"/var/lib/faqforge/storage"`
	// AWSRegion is the object store region.
	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1"`
	// AWSEndpoint overrides the S3 endpoint (MinIO or compatible stores).
	AWSEndpoint string `envconfig:"AWS_ENDPOINT" default:""`
	// AWSAccessKeyID and AWSSecretAccessKey are static credentials.
	AWSAccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID" default:""`
	AWSSecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY" default:""`
	// AWSBucket is the bucket holding uploaded documents.
	AWSBucket string `envconfig:"AWS_BUCKET" default:"faqforge-documents"`
	// UploadURLTTLMinutes is the presigned upload URL lifetime.
	UploadURLTTLMinutes int `envconfig:"UPLOAD_URL_TTL_MINUTES" default:"15"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses.
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	// KafkaGroupID is the consumer group for the ingestion worker.
	KafkaGroupID string `envconfig:"KAFKA_GROUP_ID" default:"faqforge-ingest"`
	// KafkaTopicUploaded is the topic carrying document.uploaded events.
	KafkaTopicUploaded string `envconfig:"KAFKA_TOPIC_UPLOADED" default:"document.uploaded"`
	// KafkaTopicProcessed is the topic carrying document.processed events.
	KafkaTopicProcessed string `envconfig:"KAFKA_TOPIC_PROCESSED" default:"document.processed"`
	// KafkaTopicFailed is the topic carrying document.failed events.
	KafkaTopicFailed string `envconfig:"KAFKA_TOPIC_FAILED" default:"document.failed"`
	// LocalTestMode bypasses the bus: events are logged, not published.
	LocalTestMode bool `envconfig:"LOCAL_TEST_MODE" default:"false"`

	// OllamaURL is the base URL of the embedding/generation runtime.
	OllamaURL string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	// OllamaEmbeddingModel is the embedding model name.
	OllamaEmbeddingModel string `envconfig:"OLLAMA_EMBEDDING_MODEL" default:"nomic-embed-text"`
	// OllamaGenerationModel is the generation model name.
	OllamaGenerationModel string `envconfig:"OLLAMA_GENERATION_MODEL" default:"llama3.1"`
	// EmbeddingDimensions is the dense vector dimension D.
	EmbeddingDimensions int `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
	// EmbeddingBatchSize is the max texts per embedding call.
	EmbeddingBatchSize int `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`
	// EmbeddingTimeoutSeconds bounds a single embedding call.
	EmbeddingTimeoutSeconds int `envconfig:"EMBEDDING_TIMEOUT_SECONDS" default:"60"`
	// GenerationTimeoutSeconds bounds a single generation call.
	GenerationTimeoutSeconds int `envconfig:"GENERATION_TIMEOUT_SECONDS" default:"120"`

	// PineconeURL is the vector index data-plane base URL.
	PineconeURL string `envconfig:"PINECONE_URL" default:""`
	// PineconeAPIKey authenticates vector index requests.
	PineconeAPIKey string `envconfig:"PINECONE_API_KEY" default:""`
	// VectorUpsertBatchSize is the max records per upsert call.
	VectorUpsertBatchSize int `envconfig:"VECTOR_UPSERT_BATCH_SIZE" default:"100"`

	// ChunkSize is the target chunk length in characters.
	ChunkSize int `envconfig:"CHUNK_SIZE" default:"1000"`
	// ChunkOverlap is the overlap between adjacent chunks in characters.
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`
	// MaxConcurrentJobs bounds per-process ingestion concurrency.
	MaxConcurrentJobs int `envconfig:"MAX_CONCURRENT_JOBS" default:"5"`
	// MaxFileSize is the upload size cap in bytes (default 50 MiB).
	MaxFileSize int64 `envconfig:"MAX_FILE_SIZE" default:"52428800"`
	// AllowedFileTypes is a comma-separated content-type allowlist.
	AllowedFileTypes string `envconfig:"ALLOWED_FILE_TYPES" default:"application/pdf,application/vnd.openxmlformats-officedocument.wordprocessingml.document,text/plain,text/markdown"`

	// RetrievalTopK is the number of passages fetched per chat query.
	RetrievalTopK int `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	// RetrievalMinScore is the relevance floor for retrieved passages.
	RetrievalMinScore float64 `envconfig:"RETRIEVAL_MIN_SCORE" default:"0.3"`
}

// AccessTokenTTL returns the access token lifetime as a duration.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

// RefreshTokenTTL returns the refresh token lifetime as a duration.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLSeconds) * time.Second
}

// LockoutDuration returns the account lockout duration.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutDurationMinutes) * time.Minute
}

// HMACWindow returns the allowed request timestamp skew.
func (c *Config) HMACWindow() time.Duration {
	return time.Duration(c.HMACWindowSeconds) * time.Second
}

// UploadURLTTL returns the presigned upload URL lifetime.
func (c *Config) UploadURLTTL() time.Duration {
	return time.Duration(c.UploadURLTTLMinutes) * time.Minute
}

// EmbeddingTimeout returns the per-call embedding deadline.
func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.EmbeddingTimeoutSeconds) * time.Second
}

// GenerationTimeout returns the per-call generation deadline.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

// Brokers splits KafkaBrokers into a broker address list.
func (c *Config) Brokers() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AllowedContentTypes splits AllowedFileTypes into a lookup set.
func (c *Config) AllowedContentTypes() map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Split(c.AllowedFileTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = true
		}
	}
	return out
}

// Load reads environment variables into Config, applying defaults where necessary.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process env: %w", err)
	}
	return &cfg, nil
}

// MustLoad returns Config or exits the process.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
