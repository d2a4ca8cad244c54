// Package anthropic implements providers.Provider against the real Claude
// Messages API via github.com/anthropics/anthropic-sdk-go, grounded on
// Qefaraki-picoclaw's pkg/providers/claude_provider.go (this pack's only
// retrieved anthropic-sdk-go call site; the teacher itself hand-rolls its
// LLM HTTP clients and has no equivalent file).
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

const defaultModel = "claude-sonnet-4-5-20250929"

// Provider implements providers.Provider against the Anthropic API.
type Provider struct {
	client *anthropic.Client
	model  string
}

// New builds an anthropic Provider. baseURL may be empty to use the
// default Anthropic endpoint (allows drop-in use with Anthropic-compatible
// gateways).
func New(apiKey, baseURL, model string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	if model == "" {
		model = defaultModel
	}
	return &Provider{client: &client, model: model}
}

func (p *Provider) Name() string         { return "anthropic" }
func (p *Provider) DefaultModel() string { return p.model }

func (p *Provider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	params, err := buildParams(req, p.model)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: chat: %w", err)
	}
	return parseResponse(resp), nil
}

func (p *Provider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	params, err := buildParams(req, p.model)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	acc := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic: accumulate stream event: %w", err)
		}
		switch delta := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch d := delta.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onChunk(providers.StreamChunk{TextDelta: d.Text})
			case anthropic.ThinkingDelta:
				onChunk(providers.StreamChunk{ThinkingDelta: d.Thinking})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: stream: %w", err)
	}
	onChunk(providers.StreamChunk{Done: true})
	return parseResponse(&acc), nil
}

func buildParams(req providers.ChatRequest, fallbackModel string) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = fallbackModel
	}
	maxTokens := int64(4096)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks, err := toBlockParams(m)
		if err != nil {
			return params, err
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}
	params.Messages = msgs

	if len(req.Tools) > 0 {
		params.Tools = translateTools(req.Tools)
	}
	return params, nil
}

func toBlockParams(m providers.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, b := range m.Content {
		switch b.Type {
		case providers.BlockText:
			if b.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			}
		case providers.BlockImage:
			if b.Image != nil {
				blocks = append(blocks, anthropic.NewImageBlockBase64(b.Image.MediaType, b.Image.Data))
			}
		case providers.BlockToolUse:
			var args map[string]interface{}
			if len(b.ToolInput) > 0 {
				if err := json.Unmarshal(b.ToolInput, &args); err != nil {
					args = map[string]interface{}{}
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, args, b.ToolName))
		case providers.BlockToolResult:
			blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.ToolResult, b.ToolIsError))
		}
	}
	return blocks, nil
}

func translateTools(tools []providers.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name: t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.InputSchema["properties"],
			},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		if req, ok := t.InputSchema["required"].([]interface{}); ok {
			required := make([]string, 0, len(req))
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
			tool.InputSchema.Required = required
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return result
}

func parseResponse(resp *anthropic.Message) *providers.ChatResponse {
	out := &providers.ChatResponse{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			tb := block.AsText()
			out.Content = append(out.Content, providers.ContentBlock{Type: providers.BlockText, Text: tb.Text})
		case "thinking":
			tb := block.AsThinking()
			out.Content = append(out.Content, providers.ContentBlock{Type: providers.BlockThinking, Thinking: tb.Thinking})
		case "tool_use":
			tu := block.AsToolUse()
			out.Content = append(out.Content, providers.ContentBlock{
				Type:      providers.BlockToolUse,
				ToolUseID: tu.ID,
				ToolName:  tu.Name,
				ToolInput: json.RawMessage(tu.Input),
			})
		}
	}

	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		out.StopReason = providers.StopToolUse
	case anthropic.StopReasonMaxTokens:
		out.StopReason = providers.StopMaxTokens
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		out.StopReason = providers.StopEndTurn
	default:
		out.StopReason = providers.StopOther
	}

	out.Usage = providers.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return out
}
