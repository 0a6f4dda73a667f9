// Package vector provides the Pinecone-compatible index client for chunk
// storage and retrieval.
//
// Purpose:
//   Each tenant's chunks live in a dedicated namespace ("org_{org_id}") in
//   one shared index. The ingestion worker upserts chunk vectors; the chat
//   orchestrator queries them.
//
// Dependencies:
//   - github.com/rs/zerolog: structured logging
//
// Key Responsibilities:
//   - Batched upserts (IDs "{document_id}_{chunk_index}")
//   - Top-K similarity queries with metadata
//   - Namespace deletion by document ID prefix filter
//
// Thread Safety:
//   - Client is safe for concurrent use.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Metadata keys stored alongside every chunk vector.
const (
	MetaDocumentID  = "document_id"
	MetaOrgID       = "org_id"
	MetaFilename    = "filename"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaText        = "text"
	MetaUploadedAt  = "uploaded_at"
)

// Vector is one chunk embedding plus its metadata.
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Match is one query hit.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Index abstracts the vector store so tests can swap in a fake.
type Index interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	Query(ctx context.Context, namespace string, values []float32, topK int) ([]Match, error)
	DeleteByDocument(ctx context.Context, namespace string, documentID uuid.UUID) error
}

// Namespace returns the per-tenant namespace for an organization.
func Namespace(orgID uuid.UUID) string {
	return "org_" + orgID.String()
}

// ChunkID returns the deterministic vector ID for a chunk, making re-ingestion
// of the same document an overwrite rather than a duplicate.
func ChunkID(documentID uuid.UUID, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}

// Config configures the index client.
type Config struct {
	BaseURL   string
	APIKey    string
	BatchSize int
	Timeout   time.Duration
}

// Client talks to a Pinecone-compatible data-plane HTTP API.
type Client struct {
	baseURL   string
	apiKey    string
	batchSize int
	http      *http.Client
	logger    zerolog.Logger
}

// New creates an index client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		batchSize: cfg.BatchSize,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger.With().Str("component", "vector-index").Logger(),
	}
}

type upsertRequest struct {
	Vectors   []Vector `json:"vectors"`
	Namespace string   `json:"namespace"`
}

// Upsert writes vectors in batches. The first failing batch aborts the whole
// upsert; the caller marks the document failed and re-ingestion overwrites
// any partial batch thanks to deterministic IDs.
func (c *Client) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	for start := 0; start < len(vectors); start += c.batchSize {
		end := start + c.batchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		req := upsertRequest{Vectors: vectors[start:end], Namespace: namespace}
		if err := c.post(ctx, "/vectors/upsert", req, nil); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}
	c.logger.Debug().Str("namespace", namespace).Int("count", len(vectors)).Msg("vectors upserted")
	return nil
}

type queryRequest struct {
	Namespace       string    `json:"namespace"`
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Query returns the topK nearest vectors in the namespace.
func (c *Client) Query(ctx context.Context, namespace string, values []float32, topK int) ([]Match, error) {
	req := queryRequest{
		Namespace:       namespace,
		Vector:          values,
		TopK:            topK,
		IncludeMetadata: true,
	}
	var resp queryResponse
	if err := c.post(ctx, "/query", req, &resp); err != nil {
		return nil, fmt.Errorf("query namespace %s: %w", namespace, err)
	}
	return resp.Matches, nil
}

type deleteRequest struct {
	Namespace string         `json:"namespace"`
	Filter    map[string]any `json:"filter,omitempty"`
}

// DeleteByDocument removes every chunk vector of one document from the
// tenant's namespace.
func (c *Client) DeleteByDocument(ctx context.Context, namespace string, documentID uuid.UUID) error {
	req := deleteRequest{
		Namespace: namespace,
		Filter:    map[string]any{MetaDocumentID: documentID.String()},
	}
	if err := c.post(ctx, "/vectors/delete", req, nil); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("vector request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode vector response: %w", err)
		}
	}
	return nil
}
