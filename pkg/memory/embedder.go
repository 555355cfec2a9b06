package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/vector"
)

// Embedder turns text into a vector for the similarity index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

const openAIEmbeddingDim = 1536

// OpenAIEmbedder calls the OpenAI embeddings API (text-embedding-3-small).
type OpenAIEmbedder struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAIEmbedder returns an embedder against api.openai.com.
func NewOpenAIEmbedder(apiKey string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OpenAIEmbedder) Dimension() int { return openAIEmbeddingDim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, fault.New(fault.KindAuthentication, "memory: missing openai api key")
	}

	body, _ := json.Marshal(map[string]any{
		"input": text,
		"model": "text-embedding-3-small",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("memory: build embeddings request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindNetwork, "memory: embeddings request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.Errorf(fault.KindProviderUnavailable, "memory: embeddings api status %d", resp.StatusCode)
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fault.Wrap(fault.KindInvalidResponse, "memory: decode embeddings", err)
	}
	if len(result.Data) == 0 {
		return nil, fault.New(fault.KindInvalidResponse, "memory: no embedding returned")
	}
	return result.Data[0].Embedding, nil
}

// localStopwords are dropped before hashing so trivial phrasing differences
// ("the user prefers" vs "user prefers") land on the same vector.
var localStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "of": true, "to": true,
	"in": true, "on": true, "and": true, "or": true, "it": true,
	"this": true, "that": true,
}

// LocalEmbedder is a deterministic offline embedder: each content word is
// hashed into a signed bucket and the sum is unit-normalized. It carries no
// semantics beyond token overlap, which is enough for dedup of near-identical
// content and keeps the engine fully testable without credentials.
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder returns a hash embedder of the given dimension
// (256 when dim <= 0).
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &LocalEmbedder{dim: dim}
}

func (e *LocalEmbedder) Dimension() int { return e.dim }

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, token := range tokenize(text) {
		sum := sha256.Sum256([]byte(token))
		bucket := int(binary.BigEndian.Uint32(sum[:4])) % e.dim
		if bucket < 0 {
			bucket += e.dim
		}
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}
	return vector.Normalize(vec), nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if !localStopwords[f] {
			out = append(out, f)
		}
	}
	return out
}
