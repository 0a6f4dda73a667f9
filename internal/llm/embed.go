// Package llm provides the Ollama client for embeddings and grounded answer
// generation.
//
// Purpose:
//   Two concerns share one HTTP backend: turning chunk text and queries into
//   vectors, and generating the assistant answer from a grounded prompt.
//
// Dependencies:
//   - github.com/cenkalti/backoff/v4: retry with exponential backoff
//   - github.com/rs/zerolog: structured logging
//
// Key Responsibilities:
//   - Batch embedding via /api/embed with per-item fallback
//   - Vector validation (finite values, uniform expected dimensionality)
//   - Answer generation via /api/generate, streaming and non-streaming
//
// Error Handling:
//   - Transient HTTP failures are retried with exponential backoff.
//   - Dimension mismatches are returned as ErrDimensionMismatch and are not
//     retried: the model config is wrong, not the network.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ErrDimensionMismatch is returned when the model produced vectors of a
// different length than configured.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder turns text into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedConfig configures the Ollama embedding client.
type EmbedConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
}

// OllamaEmbedder calls Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	batchSize  int
	client     *http.Client
	logger     zerolog.Logger
}

// NewOllamaEmbedder creates an embedding client.
func NewOllamaEmbedder(cfg EmbedConfig, logger zerolog.Logger) *OllamaEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "embedder").Logger(),
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	// Older servers respond with a single vector under "embedding" when the
	// request carried one input.
	Embedding []float32 `json:"embedding"`
}

// EmbedBatch embeds texts in batches of at most batchSize. Order is
// preserved: result[i] corresponds to texts[i].
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

func (e *OllamaEmbedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	operation := func() error {
		v, err := e.call(ctx, batch)
		if err != nil {
			if errors.Is(err, ErrDimensionMismatch) {
				return backoff.Permanent(err)
			}
			e.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("embed call failed, retrying")
			return err
		}
		vectors = v
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *OllamaEmbedder) call(ctx context.Context, batch []string) ([][]float32, error) {
	parsed, err := e.post(ctx, "/api/embed", embedRequest{Model: e.model, Input: batch})
	if err != nil {
		return nil, err
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Embedding) > 0 {
		vectors = [][]float32{parsed.Embedding}
	}
	if len(vectors) != len(batch) {
		// Servers predating batched input answer with a single vector no
		// matter how many texts were sent. Recover item by item.
		if len(batch) == 1 {
			return nil, fmt.Errorf("embed response count mismatch: sent 1, got %d", len(vectors))
		}
		got := len(vectors)
		e.logger.Warn().
			Int("sent", len(batch)).
			Int("got", got).
			Msg("batched embed response incomplete, falling back to per-item calls")
		vectors, err = e.embedEach(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed response count mismatch: sent %d, got %d: %w", len(batch), got, err)
		}
	}
	for i, v := range vectors {
		if err := e.validate(v); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
	}
	return vectors, nil
}

// embedEach embeds one text per request for servers that ignore batched
// input, trying the current input spelling first and the legacy
// /api/embeddings prompt spelling second.
func (e *OllamaEmbedder) embedEach(ctx context.Context, batch []string) ([][]float32, error) {
	out := make([][]float32, 0, len(batch))
	for i, text := range batch {
		v, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed item %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	v, inputErr := e.postOne(ctx, "/api/embed", map[string]any{"model": e.model, "input": text})
	if inputErr == nil {
		return v, nil
	}
	v, promptErr := e.postOne(ctx, "/api/embeddings", map[string]any{"model": e.model, "prompt": text})
	if promptErr == nil {
		return v, nil
	}
	return nil, errors.Join(inputErr, promptErr)
}

func (e *OllamaEmbedder) postOne(ctx context.Context, path string, payload map[string]any) ([]float32, error) {
	parsed, err := e.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	switch {
	case len(parsed.Embedding) > 0:
		return parsed.Embedding, nil
	case len(parsed.Embeddings) == 1:
		return parsed.Embeddings[0], nil
	}
	return nil, fmt.Errorf("%s: no embedding in response", path)
}

func (e *OllamaEmbedder) post(ctx context.Context, path string, payload any) (embedResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return embedResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return embedResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return embedResponse{}, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return embedResponse{}, fmt.Errorf("embed request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return embedResponse{}, fmt.Errorf("decode embed response: %w", err)
	}
	return parsed, nil
}

func (e *OllamaEmbedder) validate(v []float32) error {
	if len(v) == 0 {
		return errors.New("empty embedding")
	}
	if e.dimensions > 0 && len(v) != e.dimensions {
		return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, e.dimensions, len(v))
	}
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return errors.New("non-finite embedding value")
		}
	}
	return nil
}
