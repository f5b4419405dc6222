package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jmsrpp/btp-cap-genai-rag/pkg/utils"
	"github.com/ollama/ollama/api"
)

// OllamaEmbedder calls the Ollama embed endpoint.
type OllamaEmbedder struct {
	client     *api.Client
	model      string
	dimensions int
}

// NewOllamaEmbedder creates an embedder for model at baseURL. httpClient may be nil.
func NewOllamaEmbedder(baseURL, model string, dimensions int, httpClient *http.Client) (*OllamaEmbedder, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaEmbedder{client: api.NewClient(u, httpClient), model: model, dimensions: dimensions}, nil
}

// Embed embeds a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(resp.Embeddings), len(texts))
	}
	for _, v := range resp.Embeddings {
		if e.dimensions > 0 && len(v) != e.dimensions {
			return nil, fmt.Errorf("%w: model %s returned %d dimensions, configured %d", ErrEmbedding, e.model, len(v), e.dimensions)
		}
		utils.NormalizeL2(v)
	}
	return resp.Embeddings, nil
}

// Dimensions returns the configured dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client is shared.
func (e *OllamaEmbedder) Close() error {
	return nil
}
