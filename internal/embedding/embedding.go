// Package embedding turns memory content into vectors for the similarity index.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

var (
	// ErrEmptyEmbedding is returned when a provider answers without a vector.
	ErrEmptyEmbedding = errors.New("no embedding returned")
	// ErrDimensionMismatch is matched by every *DimensionError.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text. Every vector it returns has
// exactly Dims() components.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// ProviderError is a failed call to a remote embedding provider.
type ProviderError struct {
	Provider string
	// Status is the HTTP status, or 0 when no response arrived (timeouts,
	// refused connections).
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s embedding request: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s embedding request: status %d: %v", e.Provider, e.Status, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure points at provider health rather than
// at the request: no response, 429 and 5xx.
func (e *ProviderError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// DimensionError reports a provider vector whose length differs from the
// configured dimensionality.
type DimensionError struct {
	Provider  string
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s returned %d-dimensional embedding, configured for %d", e.Provider, e.Got, e.Want)
}

func (e *DimensionError) Is(target error) bool { return target == ErrDimensionMismatch }

func checkDims(provider string, v Vector, dims int) (Vector, error) {
	if len(v) == 0 {
		return nil, &ProviderError{Provider: provider, Status: http.StatusOK, Err: ErrEmptyEmbedding}
	}
	if len(v) != dims {
		return nil, &DimensionError{Provider: provider, Want: dims, Got: len(v)}
	}
	return v, nil
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// jsonClient posts JSON to a provider and maps every failure to *ProviderError.
type jsonClient struct {
	provider string
	client   *http.Client
	header   http.Header
}

func newJSONClient(provider string, timeout time.Duration) jsonClient {
	return jsonClient{
		provider: provider,
		client:   &http.Client{Timeout: timeout},
		header:   http.Header{"Content-Type": {"application/json"}},
	}
}

func (c jsonClient) post(ctx context.Context, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", c.provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.provider, err)
	}
	req.Header = c.header.Clone()

	resp, err := c.client.Do(req)
	if err != nil {
		return &ProviderError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{Provider: c.provider, Status: resp.StatusCode, Err: errors.New(string(bytes.TrimSpace(b)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: c.provider, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// --- Ollama Provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  jsonClient
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
// Default model: nomic-embed-text (768 dims), all-minilm (384 dims).
func NewOllamaEmbedder(baseURL, model string, dims int, timeout time.Duration) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dims == 0 {
		dims = 768
		if model == "all-minilm" {
			dims = 384
		}
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  newJSONClient("ollama", timeout),
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var result ollamaResponse
	if err := e.client.post(ctx, e.baseURL+"/api/embeddings", ollamaRequest{Model: e.model, Prompt: text}, &result); err != nil {
		return nil, err
	}
	return checkDims("ollama", result.Embedding, e.dims)
}

func (e *OllamaEmbedder) Dims() int { return e.dims }

// --- OpenAI-compatible Provider ---

// OpenAIEmbedder uses any OpenAI-compatible embedding API.
type OpenAIEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  jsonClient
}

type openaiEmbedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int, timeout time.Duration) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims == 0 {
		dims = 1536
	}
	c := newJSONClient("openai", timeout)
	if apiKey != "" {
		c.header.Set("Authorization", "Bearer "+apiKey)
	}
	return &OpenAIEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  c,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var result openaiEmbedResponse
	if err := e.client.post(ctx, e.baseURL+"/embeddings", openaiEmbedRequest{Input: text, Model: e.model}, &result); err != nil {
		return nil, err
	}
	var vec Vector
	if len(result.Data) > 0 {
		vec = result.Data[0].Embedding
	}
	return checkDims("openai", vec, e.dims)
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }
