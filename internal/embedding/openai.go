package embedding

import (
	"context"
	"net/http"
	"sort"
	"strings"
)

// OpenAIClient calls an OpenAI compatible /embeddings endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIClient(baseURL, apiKey, model string, client *http.Client) *OpenAIClient {
	return &OpenAIClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model, client: client}
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	var resp openAIResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/embeddings", header, openAIRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}

	// The API documents order by index; sort rather than trust it.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	if err := checkCount(texts, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}
