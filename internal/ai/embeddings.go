package ai

import (
	"context"
	"fmt"
	"net/http"

	"learning-coach-platform/internal/config"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// NewEmbedder returns the embedder selected by EMBEDDINGS_PROVIDER.
// Default provider is Ollama (nomic-embed-text).
func NewEmbedder(ctx context.Context, cfg *config.Config, httpClient *http.Client) (Embedder, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.LLMTimeout}
	}

	switch cfg.EmbeddingsProvider {
	case "ollama", "":
		return NewOllamaEmbedder(cfg.OllamaEmbeddingsURL, cfg.EmbeddingModel, httpClient), nil

	case "http":
		return NewHTTPEmbedder(cfg.EmbeddingsURL, httpClient), nil

	case "google":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
		}
		client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
		if err != nil {
			return nil, err
		}
		return &GoogleEmbedder{client: client, model: cfg.GoogleEmbeddingsModel}, nil

	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
}

// HTTPEmbedder calls a batch endpoint: {texts} -> {embeddings}.
type HTTPEmbedder struct {
	url    string
	client *http.Client
}

func NewHTTPEmbedder(url string, client *http.Client) *HTTPEmbedder {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEmbedder{url: url, client: client}
}

type batchEmbedRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (e *HTTPEmbedder) Name() string { return "http" }

func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp batchEmbedResponse
	if err := postJSON(ctx, e.client, "embedding service", e.url, batchEmbedRequest{Texts: texts}, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		out[i] = float64sTo32(v)
	}
	return out, nil
}

// OllamaEmbedder calls Ollama's single-text endpoint once per input:
// {model, prompt} -> {embedding}.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client
}

func NewOllamaEmbedder(url, model string, client *http.Client) *OllamaEmbedder {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaEmbedder{url: url, model: model, client: client}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *OllamaEmbedder) Name() string { return "ollama:" + e.model }

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp ollamaEmbedResponse
		if err := postJSON(ctx, e.client, "embedding service", e.url, ollamaEmbedRequest{Model: e.model, Prompt: text}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("embedding service returned an empty vector")
		}
		out = append(out, float64sTo32(resp.Embedding))
	}
	return out, nil
}

// GoogleEmbedder uses Google Generative AI batch embeddings.
type GoogleEmbedder struct {
	client *genai.Client
	model  string
}

func (e *GoogleEmbedder) Name() string { return "google:" + e.model }

func (e *GoogleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}

	// genai SDK returns []float32 for Embedding.Values
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("no embedding returned")
		}
		out = append(out, emb.Values)
	}
	return out, nil
}

func (e *GoogleEmbedder) Close() error {
	return e.client.Close()
}
