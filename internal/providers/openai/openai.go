// Package openai implements providers.Provider against OpenAI-compatible
// chat-completions endpoints (OpenAI itself, OpenRouter, Moonshot, and
// similar) via github.com/openai/openai-go/v3. Wired per SPEC_FULL.md §B —
// the pack carries this dependency (Qefaraki-picoclaw's go.mod) but no
// direct call site was retrieved, so this package follows the SDK's
// documented chat-completions shape rather than an in-pack example
// (noted in DESIGN.md).
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

const defaultModel = "gpt-4o"

// Provider implements providers.Provider against an OpenAI-compatible API.
type Provider struct {
	client *openai.Client
	model  string
}

// New builds an OpenAI-compatible Provider. baseURL may be empty to use
// OpenAI's default endpoint, or set to route through OpenRouter/Moonshot/etc.
func New(apiKey, baseURL, model string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	if model == "" {
		model = defaultModel
	}
	return &Provider{client: &client, model: model}
}

func (p *Provider) Name() string         { return "openai" }
func (p *Provider) DefaultModel() string { return p.model }

func (p *Provider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	params := buildParams(req, p.model)
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat: %w", err)
	}
	return parseResponse(resp), nil
}

func (p *Provider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	params := buildParams(req, p.model)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 {
			if d := chunk.Choices[0].Delta.Content; d != "" {
				onChunk(providers.StreamChunk{TextDelta: d})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: stream: %w", err)
	}
	onChunk(providers.StreamChunk{Done: true})
	return parseResponse(&acc.ChatCompletion), nil
}

func buildParams(req providers.ChatRequest, fallbackModel string) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = fallbackModel
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		msgs = append(msgs, toMessageParam(m)...)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = translateTools(req.Tools)
	}
	return params
}

// toMessageParam expands one providers.Message into zero or more
// chat-completion messages: a tool_use block becomes an assistant message
// with tool_calls, each tool_result block becomes its own "tool" message
// (the chat-completions wire format has no multi-result user turn, unlike
// Anthropic's block model).
func toMessageParam(m providers.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion

	if m.Role == "assistant" {
		var text string
		var calls []openai.ChatCompletionMessageToolCallParam
		for _, b := range m.Content {
			switch b.Type {
			case providers.BlockText:
				text += b.Text
			case providers.BlockToolUse:
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: b.ToolUseID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      b.ToolName,
						Arguments: string(b.ToolInput),
					},
				})
			}
		}
		msg := openai.ChatCompletionAssistantMessageParam{}
		if text != "" {
			msg.Content.OfString = openai.String(text)
		}
		if len(calls) > 0 {
			msg.ToolCalls = calls
		}
		out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		return out
	}

	// user role: text/image blocks become one user message; tool_result
	// blocks each become their own tool message, interleaved in order.
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, b := range m.Content {
		switch b.Type {
		case providers.BlockText:
			if b.Text != "" {
				parts = append(parts, openai.TextContentPart(b.Text))
			}
		case providers.BlockImage:
			if b.Image != nil {
				url := fmt.Sprintf("data:%s;base64,%s", b.Image.MediaType, b.Image.Data)
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
		case providers.BlockToolResult:
			out = append(out, openai.ToolMessage(b.ToolResult, b.ToolUseID))
		}
	}
	if len(parts) > 0 {
		out = append(out, openai.UserMessage(parts))
	}
	return out
}

func translateTools(tools []providers.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	result := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.InputSchema),
		}))
	}
	return result
}

func parseResponse(resp *openai.ChatCompletion) *providers.ChatResponse {
	out := &providers.ChatResponse{}
	if len(resp.Choices) == 0 {
		out.StopReason = providers.StopOther
		return out
	}
	choice := resp.Choices[0]
	msg := choice.Message
	if msg.Content != "" {
		out.Content = append(out.Content, providers.ContentBlock{Type: providers.BlockText, Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		out.Content = append(out.Content, providers.ContentBlock{
			Type:      providers.BlockToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Function.Name,
			ToolInput: json.RawMessage(tc.Function.Arguments),
		})
	}

	switch choice.FinishReason {
	case "tool_calls":
		out.StopReason = providers.StopToolUse
	case "length":
		out.StopReason = providers.StopMaxTokens
	case "stop":
		out.StopReason = providers.StopEndTurn
	default:
		out.StopReason = providers.StopOther
	}

	out.Usage = providers.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out
}
