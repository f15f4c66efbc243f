package embedding

import (
	"context"
	"net/http"
	"strings"
)

// OllamaClient calls a local Ollama server's /api/embed endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaClient(baseURL, model string, client *http.Client) *OllamaClient {
	return &OllamaClient{baseURL: strings.TrimRight(baseURL, "/"), model: model, client: client}
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/api/embed", nil, ollamaRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if err := checkCount(texts, resp.Embeddings); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
