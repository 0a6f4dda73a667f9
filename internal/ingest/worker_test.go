package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/faqforge/faqforge/internal/events"
	"github.com/faqforge/faqforge/internal/storage/postgres"
	"github.com/faqforge/faqforge/internal/vector"
)

type fakeStore struct {
	doc          postgres.Document
	notFound     bool
	processing   bool
	completedN   int
	failedCode   string
	failedMsg    string
	markComplete bool
	markFailed   bool
}

func (f *fakeStore) GetDocumentAnyOrg(ctx context.Context, documentID uuid.UUID) (postgres.Document, error) {
	if f.notFound {
		return postgres.Document{}, postgres.ErrNotFound
	}
	return f.doc, nil
}

func (f *fakeStore) MarkProcessing(ctx context.Context, documentID uuid.UUID) error {
	if f.doc.Status != postgres.StatusUploaded && f.doc.Status != postgres.StatusProcessing {
		return postgres.ErrConflict
	}
	f.processing = true
	return nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, documentID uuid.UUID, chunksCount int) error {
	f.markComplete = true
	f.completedN = chunksCount
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, documentID uuid.UUID, errorCode, errorMessage string) error {
	f.markFailed = true
	f.failedCode = errorCode
	f.failedMsg = errorMessage
	return nil
}

type fakeObjects struct {
	data []byte
	err  error
}

func (f *fakeObjects) PresignUpload(ctx context.Context, key, contentType string, size int64) (string, error) {
	return "http://example/upload", nil
}

func (f *fakeObjects) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f.data, f.err
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error { return nil }

type fakeEmbedder struct {
	dims int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dims), nil
}

type fakeIndex struct {
	namespace string
	vectors   []vector.Vector
}

func (f *fakeIndex) Upsert(ctx context.Context, namespace string, vectors []vector.Vector) error {
	f.namespace = namespace
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, namespace string, values []float32, topK int) ([]vector.Match, error) {
	return nil, nil
}

func (f *fakeIndex) DeleteByDocument(ctx context.Context, namespace string, documentID uuid.UUID) error {
	return nil
}

type fakePublisher struct {
	topics    []string
	envelopes []any
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, envelope any) error {
	f.topics = append(f.topics, topic)
	f.envelopes = append(f.envelopes, envelope)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func testWorker(store *fakeStore, objects *fakeObjects, index *fakeIndex, pub *fakePublisher) *Worker {
	return NewWorker(WorkerConfig{
		TopicProcessed: "document.processed",
		TopicFailed:    "document.failed",
		ChunkSize:      200,
		ChunkOverlap:   20,
	}, store, objects, &fakeEmbedder{dims: 8}, index, pub, zerolog.Nop())
}

func uploadedEvent(doc postgres.Document) events.DocumentUploaded {
	return events.DocumentUploaded{
		EventType:   events.TypeDocumentUploaded,
		DocumentID:  doc.ID.String(),
		OrgID:       doc.OrgID.String(),
		StorageKey:  doc.StorageKey,
		ContentType: doc.ContentType,
		Filename:    doc.SanitizedFilename,
		UploadedAt:  time.Now().UTC(),
		Timestamp:   time.Now().UTC(),
	}
}

func uploadedDoc() postgres.Document {
	return postgres.Document{
		ID:                uuid.New(),
		OrgID:             uuid.New(),
		ContentType:       "text/plain",
		SanitizedFilename: "handbook.txt",
		StorageKey:        "org/documents/doc.txt",
		Status:            postgres.StatusUploaded,
		UploadedAt:        time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestProcessCompletesTextDocument(t *testing.T) {
	doc := uploadedDoc()
	store := &fakeStore{doc: doc}
	objects := &fakeObjects{data: []byte(strings.Repeat("The onboarding guide explains the first week. ", 20))}
	index := &fakeIndex{}
	pub := &fakePublisher{}

	worker := testWorker(store, objects, index, pub)
	require.NoError(t, worker.Process(context.Background(), uploadedEvent(doc)))

	require.True(t, store.markComplete)
	require.Equal(t, len(index.vectors), store.completedN)
	require.Equal(t, vector.Namespace(doc.OrgID), index.namespace)
	require.Equal(t, vector.ChunkID(doc.ID, 0), index.vectors[0].ID)
	require.Equal(t, []string{"document.processed"}, pub.topics)

	meta := index.vectors[0].Metadata
	require.Equal(t, doc.ID.String(), meta[vector.MetaDocumentID])
	require.Equal(t, doc.OrgID.String(), meta[vector.MetaOrgID])
	require.Equal(t, "handbook.txt", meta[vector.MetaFilename])
	require.Equal(t, 0, meta[vector.MetaChunkIndex])
	require.Equal(t, len(index.vectors), meta[vector.MetaTotalChunks])
	require.Equal(t, "2026-03-14T09:30:00Z", meta[vector.MetaUploadedAt])
	require.NotEmpty(t, meta[vector.MetaText])

	processed, ok := pub.envelopes[0].(events.DocumentProcessed)
	require.True(t, ok)
	require.Equal(t, "completed", processed.Status)
}

func TestProcessMarksFailedOnTooLittleText(t *testing.T) {
	doc := uploadedDoc()
	store := &fakeStore{doc: doc}
	objects := &fakeObjects{data: []byte("too short")}
	index := &fakeIndex{}
	pub := &fakePublisher{}

	worker := testWorker(store, objects, index, pub)
	require.NoError(t, worker.Process(context.Background(), uploadedEvent(doc)))

	require.True(t, store.markFailed)
	require.Equal(t, "INSUFFICIENT_TEXT", store.failedCode)
	require.Empty(t, index.vectors)
	require.Equal(t, []string{"document.failed"}, pub.topics)

	failed, ok := pub.envelopes[0].(events.DocumentFailed)
	require.True(t, ok)
	require.Equal(t, doc.ID.String(), failed.DocumentID)
	require.Equal(t, "INSUFFICIENT_TEXT", failed.ErrorCode)
}

func TestProcessSkipsCompletedDocument(t *testing.T) {
	doc := uploadedDoc()
	doc.Status = postgres.StatusCompleted
	store := &fakeStore{doc: doc}
	pub := &fakePublisher{}

	worker := testWorker(store, &fakeObjects{}, &fakeIndex{}, pub)
	require.NoError(t, worker.Process(context.Background(), uploadedEvent(doc)))
	require.False(t, store.markComplete)
	require.False(t, store.markFailed)
	require.Empty(t, pub.topics)
}

func TestProcessSkipsAlreadyFailedDocument(t *testing.T) {
	doc := uploadedDoc()
	doc.Status = postgres.StatusFailed
	store := &fakeStore{doc: doc}
	pub := &fakePublisher{}

	worker := testWorker(store, &fakeObjects{}, &fakeIndex{}, pub)
	require.NoError(t, worker.Process(context.Background(), uploadedEvent(doc)))
	require.False(t, store.processing)
	require.Empty(t, pub.topics)
}

func TestProcessDropsEventForUnknownDocument(t *testing.T) {
	doc := uploadedDoc()
	store := &fakeStore{doc: doc, notFound: true}
	pub := &fakePublisher{}

	worker := testWorker(store, &fakeObjects{}, &fakeIndex{}, pub)
	require.NoError(t, worker.Process(context.Background(), uploadedEvent(doc)))
	require.Empty(t, pub.topics)
}

func TestProcessDropsEventWithWrongOrg(t *testing.T) {
	doc := uploadedDoc()
	store := &fakeStore{doc: doc}
	pub := &fakePublisher{}

	evt := uploadedEvent(doc)
	evt.OrgID = uuid.New().String()

	worker := testWorker(store, &fakeObjects{}, &fakeIndex{}, pub)
	require.NoError(t, worker.Process(context.Background(), evt))
	require.False(t, store.processing)
	require.Empty(t, pub.topics)
}

func TestProcessReturnsTransientFetchError(t *testing.T) {
	doc := uploadedDoc()
	store := &fakeStore{doc: doc}
	objects := &fakeObjects{err: context.DeadlineExceeded}
	pub := &fakePublisher{}

	worker := testWorker(store, objects, &fakeIndex{}, pub)
	err := worker.Process(context.Background(), uploadedEvent(doc))
	require.Error(t, err)
	require.False(t, store.markFailed)
	require.Empty(t, pub.topics)
}
