package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// OpenAICompat speaks the OpenAI chat-completions wire format. The base URL
// selects the actual vendor; OpenAI, DeepSeek, Mistral, Grok, Gemini's
// compatibility endpoint, and Ollama all accept the same shape.
type OpenAICompat struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAICompat builds a provider for the given vendor name and endpoint.
func NewOpenAICompat(name, baseURL, apiKey string) *OpenAICompat {
	return &OpenAICompat{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// NewOpenAI returns the api.openai.com provider.
func NewOpenAI(apiKey string) *OpenAICompat {
	return NewOpenAICompat("openai", "https://api.openai.com/v1", apiKey)
}

// NewDeepSeek returns the api.deepseek.com provider.
func NewDeepSeek(apiKey string) *OpenAICompat {
	return NewOpenAICompat("deepseek", "https://api.deepseek.com/v1", apiKey)
}

// NewMistral returns the api.mistral.ai provider.
func NewMistral(apiKey string) *OpenAICompat {
	return NewOpenAICompat("mistral", "https://api.mistral.ai/v1", apiKey)
}

// NewGrok returns the api.x.ai provider.
func NewGrok(apiKey string) *OpenAICompat {
	return NewOpenAICompat("grok", "https://api.x.ai/v1", apiKey)
}

// NewGemini returns Gemini's OpenAI-compatibility endpoint.
func NewGemini(apiKey string) *OpenAICompat {
	return NewOpenAICompat("gemini", "https://generativelanguage.googleapis.com/v1beta/openai", apiKey)
}

// NewOllama returns a local Ollama provider; host defaults to
// localhost:11434 and no key is needed.
func NewOllama(host string) *OpenAICompat {
	if host == "" {
		host = "http://localhost:11434"
	}
	return NewOpenAICompat("ollama", strings.TrimRight(host, "/")+"/v1", "")
}

func (p *OpenAICompat) Name() string { return p.name }

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type oaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int64 `json:"prompt_tokens"`
		CompletionTokens    int64 `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAICompat) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "ai: messages required")
	}

	payload := map[string]any{
		"model":  req.Model,
		"stream": false,
	}
	msgs := make([]oaiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = oaiMessage{Role: string(m.Role), Content: m.Content}
	}
	payload["messages"] = msgs
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]oaiTool, len(req.Tools))
		for i, t := range req.Tools {
			tools[i].Type = "function"
			tools[i].Function.Name = t.Name
			tools[i].Function.Description = t.Description
			tools[i].Function.Parameters = t.Parameters
		}
		payload["tools"] = tools
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ai: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(p.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fault.Wrap(fault.KindNetwork, "ai: read response", err)
	}

	var parsed oaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fault.Wrap(fault.KindInvalidResponse, "ai: decode response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, classifyStatus(p.name, resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return nil, fault.Errorf(fault.KindInvalidResponse, "ai: %s returned no choices", p.name)
	}

	choice := parsed.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Provider:     p.name,
		Model:        req.Model,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			CachedTokens: parsed.Usage.PromptTokensDetails.CachedTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		call := ToolCall{ID: tc.ID, Name: tc.Function.Name}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments); err != nil {
				return nil, fault.Wrap(fault.KindInvalidResponse, "ai: decode tool arguments", err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

// classifyStatus maps a provider HTTP status to the error taxonomy.
func classifyStatus(provider string, status int, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.Errorf(fault.KindAuthentication, "ai: %s rejected credentials: %s", provider, msg)
	case status == http.StatusTooManyRequests:
		return fault.Errorf(fault.KindRateLimit, "ai: %s rate limited: %s", provider, msg)
	case status == http.StatusRequestTimeout:
		return fault.Errorf(fault.KindTimeout, "ai: %s timed out: %s", provider, msg)
	case status == http.StatusBadRequest && (strings.Contains(lower, "context length") || strings.Contains(lower, "token")):
		return fault.Errorf(fault.KindTokenLimit, "ai: %s token limit: %s", provider, msg)
	case status == http.StatusBadRequest:
		return fault.Errorf(fault.KindInvalidInput, "ai: %s rejected request: %s", provider, msg)
	case status >= 500:
		return fault.Errorf(fault.KindProviderUnavailable, "ai: %s unavailable (status %d): %s", provider, status, msg)
	default:
		return fault.Errorf(fault.KindInvalidResponse, "ai: %s unexpected status %d: %s", provider, status, msg)
	}
}

// classifyTransport maps network-level failures.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fault.Wrap(fault.KindTimeout, fmt.Sprintf("ai: %s request timed out", provider), err)
	}
	return fault.Wrap(fault.KindNetwork, fmt.Sprintf("ai: %s request failed", provider), err)
}
