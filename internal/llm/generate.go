package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Generator produces answers from a composed prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, onToken func(token string) error) error
}

// GenerateConfig configures the Ollama generation client.
type GenerateConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaGenerator calls Ollama's /api/generate endpoint.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewOllamaGenerator creates a generation client.
func NewOllamaGenerator(cfg GenerateConfig, logger zerolog.Logger) *OllamaGenerator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OllamaGenerator{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With().Str("component", "generator").Logger(),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate returns the complete answer in one shot.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.post(ctx, generateRequest{Model: g.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return chunk.Response, nil
}

// GenerateStream streams tokens to onToken as the model produces them. The
// callback returning an error aborts the stream.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, prompt string, onToken func(token string) error) error {
	resp, err := g.post(ctx, generateRequest{Model: g.model, Prompt: prompt, Stream: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Response != "" {
			if err := onToken(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read generate stream: %w", err)
	}
	return nil
}

func (g *OllamaGenerator) post(ctx context.Context, payload generateRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("generate request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}
