package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// Anthropic is the Claude provider over the official SDK.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic returns a provider authenticated with the given key.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "ai: messages required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	for _, t := range req.Tools {
		tool := anthropic.ToolParam{Name: t.Name}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		if props, ok := t.Parameters["properties"]; ok {
			tool.InputSchema = anthropic.ToolInputSchemaParam{Properties: props}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropic(err)
	}

	out := &ChatResponse{
		FinishReason: string(msg.StopReason),
		Provider:     p.Name(),
		Model:        req.Model,
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			CachedTokens: msg.Usage.CacheReadInputTokens,
		},
	}

	var content strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			call := ToolCall{ID: block.ID, Name: block.Name}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &call.Arguments); err != nil {
					return nil, fault.Wrap(fault.KindInvalidResponse, "ai: decode tool input", err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}
	out.Content = content.String()
	return out, nil
}

// classifyAnthropic maps SDK errors onto the taxonomy.
func classifyAnthropic(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return classifyStatus("anthropic", apierr.StatusCode, apierr.Error())
	}
	return classifyTransport("anthropic", err)
}
