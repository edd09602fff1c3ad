package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"contractguard/internal/agent"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultMaxTokens 风险报告需要完整输出 JSON，留足余量。
const defaultMaxTokens = 4096

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

type messageStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

type Client struct {
	api       *anthropic.Client
	model     string
	newStream func(ctx context.Context, params anthropic.MessageNewParams) messageStream
}

var _ agent.ModelClient = (*Client)(nil)

func New(opts Options) (*Client, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("missing ANTHROPIC_API_KEY")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(key),
	}
	if base := normalizeBaseURL(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	client := anthropic.NewClient(reqOpts...)
	c := &Client{
		api:   &client,
		model: strings.TrimSpace(opts.Model),
	}
	c.newStream = func(ctx context.Context, params anthropic.MessageNewParams) messageStream {
		return c.api.Messages.NewStreaming(ctx, params)
	}
	return c, nil
}

func normalizeBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	base = strings.TrimSuffix(base, "/v1")
	return strings.TrimRight(base, "/")
}

func (c *Client) resolveModel(m string) anthropic.Model {
	if strings.TrimSpace(m) != "" {
		return anthropic.Model(strings.TrimSpace(m))
	}
	return anthropic.Model(c.model)
}

// CheckKey 通过列出模型验证 API key 是否可用。
func (c *Client) CheckKey(ctx context.Context) error {
	if _, err := c.api.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return wrapHTTPError(err)
	}
	return nil
}

func (c *Client) Stream(ctx context.Context, prompt agent.Prompt, onEvent func(agent.StreamEvent)) error {
	stream := c.newStream(ctx, buildMessageParams(prompt, c.resolveModel(prompt.Model)))
	state := newToolUseStreamState()

	for stream.Next() {
		if state.Handle(stream.Current().AsAny(), onEvent) {
			return nil
		}
	}
	if err := stream.Err(); err != nil {
		return wrapHTTPError(err)
	}
	state.Handle(anthropic.MessageStopEvent{}, onEvent)
	return nil
}

// toolUseStreamState 按内容块 index 累积 tool_use 的 input_json_delta，块结束时发出完整调用。
type toolUseStreamState struct {
	blocks map[int64]*toolUseBlock
	order  []int64
}

type toolUseBlock struct {
	id   string
	name string
	args strings.Builder
}

func newToolUseStreamState() *toolUseStreamState {
	return &toolUseStreamState{blocks: make(map[int64]*toolUseBlock)}
}

// Handle 处理一个流事件，返回 true 表示消息已结束。
func (s *toolUseStreamState) Handle(event any, onEvent func(agent.StreamEvent)) bool {
	switch v := event.(type) {
	case anthropic.ContentBlockStartEvent:
		if b, ok := v.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			s.blocks[v.Index] = &toolUseBlock{id: b.ID, name: b.Name}
			s.order = append(s.order, v.Index)
			onEvent(agent.StreamEvent{Type: agent.StreamEventToolCallStart, ToolCallID: b.ID, ToolName: b.Name})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch d := v.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				onEvent(agent.StreamEvent{Type: agent.StreamEventTextDelta, Text: d.Text})
			}
		case anthropic.InputJSONDelta:
			if b := s.blocks[v.Index]; b != nil {
				b.args.WriteString(d.PartialJSON)
			}
		}
	case anthropic.ContentBlockStopEvent:
		s.flush(v.Index, onEvent)
	case anthropic.MessageStopEvent:
		for len(s.order) > 0 {
			s.flush(s.order[0], onEvent)
		}
		onEvent(agent.StreamEvent{Type: agent.StreamEventCompleted})
		return true
	}
	return false
}

func (s *toolUseStreamState) flush(index int64, onEvent func(agent.StreamEvent)) {
	b := s.blocks[index]
	if b == nil {
		return
	}
	delete(s.blocks, index)
	for i, idx := range s.order {
		if idx == index {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	args := strings.TrimSpace(b.args.String())
	if args == "" || !json.Valid([]byte(args)) {
		args = "{}"
	}
	onEvent(agent.StreamEvent{
		Type:       agent.StreamEventToolCall,
		ToolCallID: b.id,
		ToolName:   b.name,
		Input:      json.RawMessage(args),
	})
}

// buildMessageParams 将会话映射为 Messages API 请求。
// 已有结果的工具调用展开为 tool_use 与随后 user 消息中的 tool_result；未决调用不发送。
func buildMessageParams(prompt agent.Prompt, model anthropic.Model) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	if text := strings.TrimSpace(prompt.System); text != "" {
		system = append(system, anthropic.TextBlockParam{Text: text})
	}
	var messages []anthropic.MessageParam

	for _, msg := range prompt.Messages {
		text := strings.TrimSpace(msg.Text())
		switch msg.Role {
		case agent.RoleSystem:
			if text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case agent.RoleAssistant:
			var blocks, results []anthropic.ContentBlockParamUnion
			if text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, part := range msg.Parts {
				if !part.IsResolved() {
					continue
				}
				input := part.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCallID, input, part.ToolName))
				results = append(results, anthropic.NewToolResultBlock(part.ToolCallID, string(part.Output), part.State == agent.ToolOutputError))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
			if len(results) > 0 {
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		default:
			if text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: defaultMaxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(prompt.Tools) > 0 {
		params.Tools = toTools(prompt.Tools)
	}
	return params
}

func toTools(specs []agent.ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			continue
		}
		schema := anthropic.ToolInputSchemaParam{Properties: spec.Parameters["properties"]}
		if req, ok := spec.Parameters["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tool := anthropic.ToolParam{Name: name, InputSchema: schema}
		if desc := strings.TrimSpace(spec.Description); desc != "" {
			tool.Description = anthropic.String(desc)
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}

func wrapHTTPError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		if raw := strings.TrimSpace(apiErr.RawJSON()); raw != "" {
			return fmt.Errorf("http_%d: %s", apiErr.StatusCode, raw)
		}
		return fmt.Errorf("http_%d: %w", apiErr.StatusCode, err)
	}
	return err
}
