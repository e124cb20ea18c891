package engine

import (
	"context"
	"fmt"

	"github.com/nescampos/coralmultichannel/pkg/logger"
	"github.com/nescampos/coralmultichannel/pkg/providers"
	"github.com/nescampos/coralmultichannel/pkg/store"
	"github.com/nescampos/coralmultichannel/pkg/tools"
	"github.com/nescampos/coralmultichannel/pkg/utils"
)

// History is the slice of the message store the engine needs.
type History interface {
	AppendMessage(ctx context.Context, channel, identity, role, content string) error
	RecentMessages(ctx context.Context, channel, identity string, limit int) ([]store.Turn, error)
}

type Options struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	HistoryLimit int
}

// Engine runs one model round per inbound message: an initial
// completion with tools, tool execution, and a closing completion
// that produces the reply text.
type Engine struct {
	provider providers.LLMProvider
	registry *tools.Registry
	history  History
	opts     Options
}

func New(provider providers.LLMProvider, registry *tools.Registry, history History, opts Options) *Engine {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 40
	}
	return &Engine{provider: provider, registry: registry, history: history, opts: opts}
}

// ProcessMessage answers one inbound message for (channel, identity)
// and persists both sides of the exchange.
func (e *Engine) ProcessMessage(ctx context.Context, channel, identity, text string) (string, error) {
	messages, err := e.buildMessages(ctx, channel, identity, text)
	if err != nil {
		return "", err
	}

	chatOpts := providers.ChatOptions{
		Model:       e.opts.Model,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
	}

	logger.DebugCF("engine", "model round started", map[string]interface{}{
		"channel":  channel,
		"identity": identity,
		"preview":  utils.Truncate(text, 80),
	})

	resp, err := e.provider.Chat(ctx, messages, e.registry.Defs(), chatOpts)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		e.persistExchange(ctx, channel, identity, text, resp.Content)
		return resp.Content, nil
	}

	messages = append(messages, providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	for _, call := range resp.ToolCalls {
		messages = append(messages, providers.Message{
			Role:       "tool",
			Content:    e.runTool(ctx, call, identity),
			ToolCallID: call.ID,
		})
	}

	final, err := e.provider.Chat(ctx, messages, nil, chatOpts)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}

	e.persistExchange(ctx, channel, identity, text, final.Content)
	return final.Content, nil
}

func (e *Engine) buildMessages(ctx context.Context, channel, identity, text string) ([]providers.Message, error) {
	recent, err := e.history.RecentMessages(ctx, channel, identity, e.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]providers.Message, 0, len(recent)+2)
	if e.opts.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: e.opts.SystemPrompt})
	}
	// RecentMessages returns newest first
	for i := len(recent) - 1; i >= 0; i-- {
		messages = append(messages, providers.Message{Role: recent[i].Role, Content: recent[i].Content})
	}
	messages = append(messages, providers.Message{Role: "user", Content: text})
	return messages, nil
}

// runTool produces the result text for a single tool call. Every call
// gets exactly one answer, failures included, so the transcript stays
// balanced for the follow-up completion.
func (e *Engine) runTool(ctx context.Context, call providers.ToolCall, identity string) string {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		logger.WarnCF("engine", "model requested unknown tool", map[string]interface{}{"tool": call.Name})
		return fmt.Sprintf("tool %s is not available", call.Name)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	schema := tool.Parameters()
	if tools.HasParam(schema, "identity") {
		if _, present := args["identity"]; !present {
			args["identity"] = identity
		}
	}
	if missing := tools.MissingRequired(schema, args); missing != "" {
		return fmt.Sprintf("missing required parameter: %s", missing)
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		logger.WarnCF("engine", "tool execution failed", map[string]interface{}{
			"tool":  call.Name,
			"error": err.Error(),
		})
		return fmt.Sprintf("tool %s failed: %s", call.Name, err.Error())
	}
	logger.DebugCF("engine", "tool executed", map[string]interface{}{
		"tool":    call.Name,
		"preview": utils.Truncate(result, 80),
	})
	return result
}

func (e *Engine) persistExchange(ctx context.Context, channel, identity, userText, reply string) {
	if err := e.history.AppendMessage(ctx, channel, identity, "user", userText); err != nil {
		logger.WarnCF("engine", "failed to persist user turn", map[string]interface{}{"error": err.Error()})
	}
	if err := e.history.AppendMessage(ctx, channel, identity, "assistant", reply); err != nil {
		logger.WarnCF("engine", "failed to persist assistant turn", map[string]interface{}{"error": err.Error()})
	}
}
