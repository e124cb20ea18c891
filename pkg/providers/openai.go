package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIProvider talks to the OpenAI chat completions API, or any
// compatible endpoint when api_base is set.
type OpenAIProvider struct {
	client openai.Client
}

func NewOpenAIProvider(apiKey, apiBase string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(apiBase), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, opts ChatOptions) (*LLMResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(opts.Model),
		Messages: toOpenAIMessages(messages),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	for _, t := range tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.Parameters),
		}))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: empty choices")
	}

	choice := completion.Choices[0]
	resp := &LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		if raw := tc.Function.Arguments; raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("openai chat: tool call %s arguments: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
