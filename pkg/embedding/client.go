package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrService is returned when the remote embedding service fails or answers
// without an embedding payload.
var ErrService = errors.New("embedding: service error")

// embedRequest is the Ollama /api/embeddings request body.
type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embedResponse is the Ollama /api/embeddings response body. A missing
// embedding field decodes as nil and is treated as an error.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Client calls a remote Ollama-compatible embedding service. It carries no
// per-request state and is safe to share across search workers.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an embedding client for the service at baseURL.
// timeout bounds each individual embedding call.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Embed computes the embedding of text under the named model.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("embedding call failed",
			"model", model,
			"status", resp.StatusCode,
			"body", string(payload))
		return nil, fmt.Errorf("%w: status %d", ErrService, resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrService, err)
	}
	if out.Embedding == nil {
		return nil, fmt.Errorf("%w: response has no embedding field (model %q)", ErrService, model)
	}
	return out.Embedding, nil
}
