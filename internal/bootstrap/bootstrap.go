// Package bootstrap wires the platform's services from configuration.
//
// Purpose:
//   Each binary builds a Runtime and picks the collaborators it needs. The
//   wiring decisions live in one place: storage backend selection, bus vs
//   log-only publishing, optional Redis credential caching.
//
// Key Responsibilities:
//   - Postgres pool creation and embedded migrations
//   - Publisher selection: Kafka with outbox fallback, or log-only in
//     LOCAL_TEST_MODE
//   - Object store selection: S3/MinIO or local filesystem
//   - Service construction: identity, content, RAG, ingestion worker
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/audit"
	"github.com/faqforge/faqforge/internal/config"
	"github.com/faqforge/faqforge/internal/content"
	"github.com/faqforge/faqforge/internal/events"
	"github.com/faqforge/faqforge/internal/identity"
	"github.com/faqforge/faqforge/internal/ingest"
	"github.com/faqforge/faqforge/internal/llm"
	"github.com/faqforge/faqforge/internal/objectstore"
	"github.com/faqforge/faqforge/internal/rag"
	"github.com/faqforge/faqforge/internal/storage/postgres"
	"github.com/faqforge/faqforge/internal/token"
	"github.com/faqforge/faqforge/internal/vector"
)

// outboxRetryInterval is how often parked events are re-published.
const outboxRetryInterval = 30 * time.Second

// Runtime holds the wired collaborators for one process.
type Runtime struct {
	Cfg    *config.Config
	Logger zerolog.Logger

	Store     *postgres.Store
	Redis     *redis.Client
	Publisher events.Publisher
	Retrier   *events.OutboxRetrier
	Objects   objectstore.Store
	Local     *objectstore.LocalStore

	Identity *identity.Service
	Content  *content.Service
	RAG      *rag.Orchestrator
	Worker   *ingest.Worker
}

// New builds the full runtime: storage, bus, object store, and all services.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	rt := &Runtime{Cfg: cfg, Logger: logger, Store: store}

	if cfg.RedisAddr != "" {
		rt.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	if cfg.LocalTestMode {
		rt.Publisher = events.NewLogPublisher(logger)
	} else {
		kafka := events.NewKafkaPublisher(events.KafkaPublisherConfig{
			Brokers:  cfg.Brokers(),
			ClientID: cfg.ServiceName,
		}, logger)
		rt.Publisher = events.NewOutboxPublisher(kafka, store, logger)
		rt.Retrier = events.NewOutboxRetrier(kafka, store, outboxRetryInterval, logger)
	}

	if err := rt.buildObjectStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	emitter := audit.NewStoreEmitter(store, logger)

	var resolver identity.OrgResolver
	if rt.Redis != nil {
		resolver = identity.NewCredentialCache(store, rt.Redis, logger)
	}
	rt.Identity = identity.NewService(store, resolver, issuer, emitter, identity.Config{
		MaxLoginAttempts: cfg.LockoutMaxAttempts,
		LockoutDuration:  cfg.LockoutDuration(),
		HMACWindow:       cfg.HMACWindow(),
	}, logger)

	embedder := llm.NewOllamaEmbedder(llm.EmbedConfig{
		BaseURL:    cfg.OllamaURL,
		Model:      cfg.OllamaEmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		BatchSize:  cfg.EmbeddingBatchSize,
		Timeout:    cfg.EmbeddingTimeout(),
	}, logger)
	generator := llm.NewOllamaGenerator(llm.GenerateConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaGenerationModel,
		Timeout: cfg.GenerationTimeout(),
	}, logger)
	index := vector.New(vector.Config{
		BaseURL:   cfg.PineconeURL,
		APIKey:    cfg.PineconeAPIKey,
		BatchSize: cfg.VectorUpsertBatchSize,
	}, logger)

	var allowed []string
	for contentType := range cfg.AllowedContentTypes() {
		allowed = append(allowed, contentType)
	}
	rt.Content = content.NewService(store, rt.Objects, rt.Publisher, index, emitter, content.Config{
		AllowedContentTypes: allowed,
		MaxFileSize:         cfg.MaxFileSize,
		TopicUploaded:       cfg.KafkaTopicUploaded,
	}, logger)

	rt.RAG = rag.New(store, embedder, index, generator, rag.Config{
		TopK:     cfg.RetrievalTopK,
		MinScore: cfg.RetrievalMinScore,
	}, logger)

	rt.Worker = ingest.NewWorker(ingest.WorkerConfig{
		Brokers:        cfg.Brokers(),
		GroupID:        cfg.KafkaGroupID,
		TopicUploaded:  cfg.KafkaTopicUploaded,
		TopicProcessed: cfg.KafkaTopicProcessed,
		TopicFailed:    cfg.KafkaTopicFailed,
		Concurrency:    cfg.MaxConcurrentJobs,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
	}, store, rt.Objects, embedder, index, rt.Publisher, logger)

	return rt, nil
}

func (rt *Runtime) buildObjectStore(ctx context.Context) error {
	cfg := rt.Cfg
	if cfg.StorageType == "local" {
		baseURL := fmt.Sprintf("http://localhost:%d", cfg.Port)
		local, err := objectstore.NewLocal(cfg.StoragePath, baseURL)
		if err != nil {
			return fmt.Errorf("create local object store: %w", err)
		}
		rt.Local = local
		rt.Objects = local
		return nil
	}

	client, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:     cfg.AWSEndpoint,
		Region:       cfg.AWSRegion,
		Bucket:       cfg.AWSBucket,
		AccessKey:    cfg.AWSAccessKeyID,
		SecretKey:    cfg.AWSSecretAccessKey,
		UploadURLTTL: cfg.UploadURLTTL(),
	})
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	rt.Objects = client
	return nil
}

// Readiness reports whether the process's backing stores are reachable.
func (rt *Runtime) Readiness(ctx context.Context) error {
	if err := rt.Store.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases the runtime's connections.
func (rt *Runtime) Close() {
	if rt.Publisher != nil {
		if err := rt.Publisher.Close(); err != nil {
			rt.Logger.Warn().Err(err).Msg("publisher close failed")
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn().Err(err).Msg("redis close failed")
		}
	}
	if rt.Store != nil {
		rt.Store.Close()
	}
}
