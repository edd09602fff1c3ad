package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"contractguard/internal/agent"
	"contractguard/internal/logger"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	api   *openai.Client
	model string
}

// 确保Client实现了agent.ModelClient接口
var _ agent.ModelClient = (*Client)(nil)

var log = logger.Named("openai")

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("missing OPENAI_API_KEY")
	}
	cfg := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg = append(cfg, option.WithBaseURL(strings.TrimRight(normalizeBaseURL(base), "/")))
	}
	client := openai.NewClient(cfg...)

	return &Client{
		api:   &client,
		model: opts.Model,
	}, nil
}

func (c *Client) resolveModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

// CheckKey 通过列出模型验证 API key 是否可用。
func (c *Client) CheckKey(ctx context.Context) error {
	if _, err := c.api.Models.List(ctx); err != nil {
		return wrapHTTPError(err)
	}
	return nil
}

func (c *Client) Stream(ctx context.Context, prompt agent.Prompt, onEvent func(agent.StreamEvent)) error {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.resolveModel(prompt.Model)),
		Messages: toChatMessages(prompt.System, prompt.Messages),
	}
	if len(prompt.Tools) > 0 {
		params.Tools = toChatTools(prompt.Tools)
		params.ParallelToolCalls = openai.Bool(false)
	}

	stream := c.api.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	collector := newToolCallCollector()

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				onEvent(agent.StreamEvent{Type: agent.StreamEventTextDelta, Text: choice.Delta.Content})
			}
			for _, call := range choice.Delta.ToolCalls {
				if started, ok := collector.Add(call.Index, call.ID, call.Function.Name, call.Function.Arguments); ok {
					onEvent(agent.StreamEvent{
						Type:       agent.StreamEventToolCallStart,
						ToolCallID: started.ID,
						ToolName:   started.Name,
					})
				}
			}
			if choice.FinishReason == "tool_calls" {
				for _, ev := range collector.Flush() {
					onEvent(ev)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return wrapHTTPError(err)
	}
	for _, ev := range collector.Flush() {
		onEvent(ev)
	}
	onEvent(agent.StreamEvent{Type: agent.StreamEventCompleted})
	return nil
}

// toChatMessages 将会话映射为 chat completions 消息。
// 已有结果的工具调用展开为 assistant tool_calls 与对应的 tool 消息；未决调用不发送。
func toChatMessages(system string, msgs []agent.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system = strings.TrimSpace(system); system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range msgs {
		switch msg.Role {
		case agent.RoleSystem:
			if text := msg.Text(); text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case agent.RoleAssistant:
			out = append(out, assistantMessages(msg)...)
		default:
			if text := msg.Text(); text != "" {
				out = append(out, openai.UserMessage(text))
			}
		}
	}
	return out
}

func assistantMessages(msg agent.Message) []openai.ChatCompletionMessageParamUnion {
	var (
		calls   []openai.ChatCompletionMessageToolCallUnionParam
		results []openai.ChatCompletionMessageParamUnion
	)
	for _, part := range msg.Parts {
		if !part.IsResolved() {
			continue
		}
		args := strings.TrimSpace(string(part.Input))
		if args == "" {
			args = "{}"
		}
		calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: part.ToolCallID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      part.ToolName,
					Arguments: args,
				},
			},
		})
		results = append(results, openai.ToolMessage(string(part.Output), part.ToolCallID))
	}

	text := msg.Text()
	if len(calls) == 0 {
		if text == "" {
			return nil
		}
		return []openai.ChatCompletionMessageParamUnion{openai.AssistantMessage(text)}
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	return append([]openai.ChatCompletionMessageParamUnion{{OfAssistant: &assistant}}, results...)
}

func toChatTools(specs []agent.ToolSpec) []openai.ChatCompletionToolUnionParam {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			continue
		}
		fn := shared.FunctionDefinitionParam{
			Name:       name,
			Parameters: spec.Parameters,
			Strict:     openai.Bool(true),
		}
		if desc := strings.TrimSpace(spec.Description); desc != "" {
			fn.Description = openai.String(desc)
		}
		tools = append(tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: fn,
			},
		})
	}
	return tools
}

func wrapHTTPError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		raw := strings.TrimSpace(apiErr.RawJSON())
		if raw != "" {
			return fmt.Errorf("http_%d: %s", apiErr.StatusCode, raw)
		}
		return fmt.Errorf("http_%d: %w", apiErr.StatusCode, err)
	}
	return err
}

// toolCallCollector 按 delta 的 index 累积流式工具调用参数。
type toolCallCollector struct {
	calls map[int64]*pendingToolCall
}

type pendingToolCall struct {
	ID      string
	Name    string
	Args    strings.Builder
	started bool
}

func newToolCallCollector() *toolCallCollector {
	return &toolCallCollector{
		calls: make(map[int64]*pendingToolCall),
	}
}

// Add 合并一段 delta；调用首次拿到名称时返回 true，用于发出 tool-call-start。
func (c *toolCallCollector) Add(index int64, id, name, args string) (*pendingToolCall, bool) {
	entry := c.calls[index]
	if entry == nil {
		entry = &pendingToolCall{}
		c.calls[index] = entry
	}
	if id != "" && entry.ID == "" {
		entry.ID = id
	}
	if name != "" {
		entry.Name = name
	}
	entry.Args.WriteString(args)
	if entry.started || entry.Name == "" {
		return entry, false
	}
	if entry.ID == "" {
		entry.ID = "call_" + uuid.NewString()
	}
	entry.started = true
	return entry, true
}

// Flush 按 index 顺序输出参数完整的工具调用并清空状态。
func (c *toolCallCollector) Flush() []agent.StreamEvent {
	if len(c.calls) == 0 {
		return nil
	}
	indexes := make([]int64, 0, len(c.calls))
	for idx := range c.calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	out := make([]agent.StreamEvent, 0, len(indexes))
	for _, idx := range indexes {
		call := c.calls[idx]
		if !call.started {
			continue
		}
		out = append(out, agent.StreamEvent{
			Type:       agent.StreamEventToolCall,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Input:      completeArgs(call),
		})
	}
	c.calls = make(map[int64]*pendingToolCall)
	return out
}

func completeArgs(call *pendingToolCall) json.RawMessage {
	args := strings.TrimSpace(call.Args.String())
	if args == "" {
		return json.RawMessage(`{}`)
	}
	if !json.Valid([]byte(args)) {
		log.Warnf("tool call %s (%s) has invalid arguments: %s", call.ID, call.Name, logger.Clip(args))
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(args)
}
