package agent

import (
	"context"
	"encoding/json"
	"net/http"

	"contractguard/internal/logger"
)

// StreamEventType 描述模型流式输出中的事件类型。
type StreamEventType string

const (
	StreamEventTextDelta StreamEventType = "text-delta"
	// StreamEventToolCallStart 模型开始生成一次工具调用，参数尚未完整。
	StreamEventToolCallStart StreamEventType = "tool-call-start"
	// StreamEventToolCall 工具调用参数已完整。
	StreamEventToolCall  StreamEventType = "tool-call"
	StreamEventCompleted StreamEventType = "completed"
)

// StreamEvent 是模型客户端向调用方推送的单个事件。
type StreamEvent struct {
	Type       StreamEventType
	Text       string
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
}

// ModelClient 定义模型客户端接口。
type ModelClient interface {
	Stream(ctx context.Context, prompt Prompt, onEvent func(StreamEvent)) error
}

// RequestRouter 处理调度器未匹配的请求。
type RequestRouter interface {
	http.Handler
}

// ToLLMMessages 将内部消息转换为日志友好的结构。
func ToLLMMessages(msgs []Message) []logger.LLMMessage {
	out := make([]logger.LLMMessage, 0, len(msgs))
	for _, msg := range msgs {
		content := msg.Text()
		for _, part := range msg.Parts {
			if !part.IsToolInvocation() {
				continue
			}
			content += " [tool " + part.ToolName + " " + string(part.State) + "]"
		}
		out = append(out, logger.LLMMessage{
			Role:    string(msg.Role),
			Content: content,
		})
	}
	return out
}
