// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/model"
)

// Embedder embeds a batch of texts in one call. The result has one vector per
// input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New builds the Embedder named by cfg.Provider.
func New(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, client), nil
	case "ollama":
		return NewOllamaClient(cfg.BaseURL, cfg.Model, client), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL, client)
	}
	return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
}

func checkCount(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(vectors))
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(respBytes)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &model.HTTPError{StatusCode: resp.StatusCode, URL: req.URL.Redacted(), Err: fmt.Errorf("%s", snippet)}
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("parse embedding response: %w", err)
	}
	return nil
}
