package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/faqforge/faqforge/internal/apierr"
	"github.com/faqforge/faqforge/internal/events"
	"github.com/faqforge/faqforge/internal/llm"
	"github.com/faqforge/faqforge/internal/metrics"
	"github.com/faqforge/faqforge/internal/objectstore"
	"github.com/faqforge/faqforge/internal/storage/postgres"
	"github.com/faqforge/faqforge/internal/vector"
)

// DocumentStore is the slice of the database layer the worker needs.
// *postgres.Store satisfies it.
type DocumentStore interface {
	GetDocumentAnyOrg(ctx context.Context, documentID uuid.UUID) (postgres.Document, error)
	MarkProcessing(ctx context.Context, documentID uuid.UUID) error
	MarkCompleted(ctx context.Context, documentID uuid.UUID, chunksCount int) error
	MarkFailed(ctx context.Context, documentID uuid.UUID, errorCode, errorMessage string) error
}

// WorkerConfig wires the worker's collaborators and topics.
type WorkerConfig struct {
	Brokers        []string
	GroupID        string
	TopicUploaded  string
	TopicProcessed string
	TopicFailed    string
	Concurrency    int
	ChunkSize      int
	ChunkOverlap   int
}

// Worker drives documents through the ingestion pipeline.
type Worker struct {
	cfg       WorkerConfig
	store     DocumentStore
	objects   objectstore.Store
	embedder  llm.Embedder
	index     vector.Index
	publisher events.Publisher
	chunker   *Chunker
	logger    zerolog.Logger
}

// NewWorker creates an ingestion worker.
func NewWorker(
	cfg WorkerConfig,
	store DocumentStore,
	objects objectstore.Store,
	embedder llm.Embedder,
	index vector.Index,
	publisher events.Publisher,
	logger zerolog.Logger,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Worker{
		cfg:       cfg,
		store:     store,
		objects:   objects,
		embedder:  embedder,
		index:     index,
		publisher: publisher,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		logger:    logger.With().Str("component", "ingest-worker").Logger(),
	}
}

// Run consumes document.uploaded until ctx is cancelled. Concurrency comes
// from running several group consumers; each drains its partition share and
// finishes its in-flight document before returning.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		consumer := events.NewConsumer(events.ConsumerConfig{
			Brokers: w.cfg.Brokers,
			GroupID: w.cfg.GroupID,
			Topic:   w.cfg.TopicUploaded,
		}, w.logger)

		wg.Add(1)
		go func(i int, c *events.Consumer) {
			defer wg.Done()
			defer c.Close()
			errs[i] = c.Run(ctx, w.HandleMessage)
		}(i, consumer)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// HandleMessage processes one document.uploaded event. A nil return commits
// the offset. Terminal failures (unparseable file, too little text, wrong
// embedding dimensions) mark the document failed and still commit, because
// redelivery would fail identically. Transient failures leave the offset
// uncommitted for redelivery.
func (w *Worker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var evt events.DocumentUploaded
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		w.logger.Error().Err(err).Str("key", string(msg.Key)).Msg("malformed event, dropping")
		return nil
	}
	return w.Process(ctx, evt)
}

// Process runs the full pipeline for one uploaded document.
func (w *Worker) Process(ctx context.Context, evt events.DocumentUploaded) error {
	started := time.Now()
	logger := w.logger.With().
		Str("document_id", evt.DocumentID).
		Str("org_id", evt.OrgID).
		Logger()

	documentID, err := uuid.Parse(evt.DocumentID)
	if err != nil {
		logger.Error().Err(err).Msg("invalid document_id, dropping")
		return nil
	}
	orgID, err := uuid.Parse(evt.OrgID)
	if err != nil {
		logger.Error().Err(err).Msg("invalid org_id, dropping")
		return nil
	}

	doc, err := w.store.GetDocumentAnyOrg(ctx, documentID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			logger.Warn().Msg("document not found, dropping event")
			return nil
		}
		return fmt.Errorf("load document: %w", err)
	}
	if doc.OrgID != orgID {
		logger.Error().Str("row_org_id", doc.OrgID.String()).Msg("event org does not match document row, dropping")
		return nil
	}
	if doc.Status == postgres.StatusCompleted {
		logger.Info().Msg("document already completed, skipping")
		return nil
	}

	if err := w.store.MarkProcessing(ctx, documentID); err != nil {
		if errors.Is(err, postgres.ErrConflict) {
			logger.Info().Str("status", string(doc.Status)).Msg("document not processable, skipping")
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	chunksCount, err := w.runPipeline(ctx, doc)
	if err != nil {
		if IsTerminalParseError(err) {
			w.fail(ctx, doc, err, started, logger)
			return nil
		}
		logger.Error().Err(err).Msg("transient pipeline failure, leaving for redelivery")
		return err
	}

	if err := w.store.MarkCompleted(ctx, documentID, chunksCount); err != nil {
		if errors.Is(err, postgres.ErrConflict) {
			logger.Info().Msg("document left processing state concurrently, skipping")
			return nil
		}
		return fmt.Errorf("mark completed: %w", err)
	}

	elapsed := time.Since(started)
	metrics.RecordIngestResult(string(postgres.StatusCompleted), elapsed)
	logger.Info().Int("chunks", chunksCount).Dur("elapsed", elapsed).Msg("document processed")

	return w.publisher.Publish(ctx, w.cfg.TopicProcessed, evt.DocumentID, events.DocumentProcessed{
		EventType:      events.TypeDocumentProcessed,
		DocumentID:     evt.DocumentID,
		OrgID:          evt.OrgID,
		Status:         string(postgres.StatusCompleted),
		ChunksCount:    chunksCount,
		ProcessingTime: elapsed.Seconds(),
		Timestamp:      time.Now().UTC(),
	})
}

// runPipeline fetches, parses, chunks, embeds and upserts one document,
// returning the chunk count.
func (w *Worker) runPipeline(ctx context.Context, doc postgres.Document) (int, error) {
	data, err := w.objects.Fetch(ctx, doc.StorageKey)
	if err != nil {
		return 0, fmt.Errorf("fetch object: %w", err)
	}

	text, err := Parse(doc.ContentType, data)
	if err != nil {
		return 0, err
	}

	chunks := w.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, apierr.ErrInsufficientText
	}

	embeddings, err := w.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		if errors.Is(err, llm.ErrDimensionMismatch) {
			return 0, apierr.ErrDimensionMismatch.WithMessage(err.Error())
		}
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	vectors := make([]vector.Vector, len(chunks))
	for i, chunk := range chunks {
		vectors[i] = vector.Vector{
			ID:     vector.ChunkID(doc.ID, i),
			Values: embeddings[i],
			Metadata: map[string]any{
				vector.MetaDocumentID:  doc.ID.String(),
				vector.MetaOrgID:       doc.OrgID.String(),
				vector.MetaFilename:    doc.SanitizedFilename,
				vector.MetaChunkIndex:  i,
				vector.MetaTotalChunks: len(chunks),
				vector.MetaText:        chunk,
				vector.MetaUploadedAt:  doc.UploadedAt.UTC().Format(time.RFC3339),
			},
		}
	}

	namespace := vector.Namespace(doc.OrgID)
	if err := w.index.Upsert(ctx, namespace, vectors); err != nil {
		return 0, fmt.Errorf("upsert vectors: %w", err)
	}
	metrics.ChunksEmbeddedTotal.Add(float64(len(chunks)))
	return len(chunks), nil
}

// fail marks the document failed with its terminal code and emits the
// document.failed event.
func (w *Worker) fail(ctx context.Context, doc postgres.Document, cause error, started time.Time, logger zerolog.Logger) {
	code := apierr.From(cause).Code
	message := cause.Error()

	if err := w.store.MarkFailed(ctx, doc.ID, code, message); err != nil && !errors.Is(err, postgres.ErrConflict) {
		logger.Error().Err(err).Msg("mark failed errored")
	}
	metrics.RecordIngestResult(string(postgres.StatusFailed), time.Since(started))
	metrics.RecordIngestFailure(code)
	logger.Warn().Str("error_code", code).Str("error", message).Msg("document failed")

	err := w.publisher.Publish(ctx, w.cfg.TopicFailed, doc.ID.String(), events.DocumentFailed{
		EventType:    events.TypeDocumentFailed,
		DocumentID:   doc.ID.String(),
		OrgID:        doc.OrgID.String(),
		ErrorCode:    code,
		ErrorMessage: message,
		RetryCount:   doc.RetryCount + 1,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("publish document.failed errored")
	}
}
