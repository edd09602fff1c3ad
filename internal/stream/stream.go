package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"contractguard/internal/agent"
	"contractguard/internal/events"
	"contractguard/internal/tools"
)

// Frame 类型与客户端 UI 消息流协议保持一致。
const (
	FrameStart               = "start"
	FrameTextDelta           = "text-delta"
	FrameToolInputStart      = "tool-input-start"
	FrameToolInputAvailable  = "tool-input-available"
	FrameToolOutputAvailable = "tool-output-available"
	FrameToolOutputError     = "tool-output-error"
	FrameError               = "error"
	FrameFinish              = "finish"
)

// Finish reasons.
const (
	FinishStop             = "stop"
	FinishToolConfirmation = "tool-confirmation"
	FinishMaxSteps         = "max-steps"
	FinishError            = "error"
)

const doneFrame = "data: [DONE]\n\n"

// Frame 是写入 SSE data 行的 JSON 对象。
type Frame struct {
	Type         string          `json:"type"`
	MessageID    string          `json:"messageId,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorText    string          `json:"errorText,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
}

// Writer 将一次会话轮次写成 SSE 流，并发安全；Close 之后的写入被丢弃。
type Writer struct {
	w              io.Writer
	flush          func()
	bus            *events.Bus
	conversationID string

	mu      sync.Mutex
	started bool
	closed  bool
	err     error
}

var _ tools.Sink = (*Writer)(nil)

// NewWriter 设置 SSE 响应头并构造写入器。bus 可以为 nil。
func NewWriter(w http.ResponseWriter, conversationID string, bus *events.Bus) *Writer {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	s := &Writer{w: w, bus: bus, conversationID: conversationID}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

// NewPlainWriter 允许使用任意 writer（例如测试）。
func NewPlainWriter(w io.Writer, conversationID string, bus *events.Bus) *Writer {
	return &Writer{w: w, bus: bus, conversationID: conversationID}
}

func (s *Writer) Start(messageID string) error {
	return s.Send(Frame{Type: FrameStart, MessageID: messageID})
}

func (s *Writer) TextDelta(messageID, delta string) error {
	if delta == "" {
		return nil
	}
	return s.Send(Frame{Type: FrameTextDelta, MessageID: messageID, Delta: delta})
}

// WritePart 实现 tools.Sink，按工具调用状态选择帧类型。
func (s *Writer) WritePart(messageID string, part agent.Part) error {
	if !part.IsToolInvocation() {
		return s.TextDelta(messageID, part.Text)
	}
	frame := Frame{MessageID: messageID, ToolCallID: part.ToolCallID, ToolName: part.ToolName}
	switch part.State {
	case agent.ToolInputStreaming:
		frame.Type = FrameToolInputStart
	case agent.ToolInputAvailable:
		frame.Type = FrameToolInputAvailable
		frame.Input = part.Input
	case agent.ToolOutputAvailable:
		frame.Type = FrameToolOutputAvailable
		frame.Output = part.Output
	case agent.ToolOutputError:
		frame.Type = FrameToolOutputError
		frame.ErrorText = errorText(part.Output)
	default:
		return fmt.Errorf("stream: unknown tool state %q", part.State)
	}
	return s.Send(frame)
}

func (s *Writer) Error(text string) error {
	return s.Send(Frame{Type: FrameError, ErrorText: text})
}

func (s *Writer) Finish(reason string) error {
	return s.Send(Frame{Type: FrameFinish, FinishReason: reason})
}

// Send 写入单个帧并广播到总线。
func (s *Writer) Send(frame Frame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("stream: marshal frame: %w", err)
	}
	if err := s.write("data: " + string(body) + "\n\n"); err != nil {
		return err
	}
	s.bus.Publish(events.Event{
		ConversationID: s.conversationID,
		Type:           frame.Type,
		Payload:        body,
		Timestamp:      time.Now().UTC(),
	})
	return nil
}

// Close 写入 [DONE] 结束流，重复调用无副作用。
func (s *Writer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	err := s.writeLocked(doneFrame)
	s.closed = true
	return err
}

// Started 报告是否已有数据写入客户端；未开始时调用方仍可改写为普通 JSON 响应。
func (s *Writer) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Err 返回首个写入错误（通常是客户端断开）。
func (s *Writer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

var errClosed = errors.New("stream: writer closed")

func (s *Writer) write(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return s.writeLocked(data)
}

func (s *Writer) writeLocked(data string) error {
	if s.err != nil {
		return s.err
	}
	if _, err := io.WriteString(s.w, data); err != nil {
		s.err = err
		return err
	}
	s.started = true
	if s.flush != nil {
		s.flush()
	}
	return nil
}

func errorText(output json.RawMessage) string {
	var text string
	if err := json.Unmarshal(output, &text); err == nil {
		return text
	}
	return string(output)
}

// Relay 将总线事件以 SSE 形式转发给 w，直到 ctx 结束或通道关闭；heartbeat<=0 关闭心跳。
func Relay(ctx context.Context, w http.ResponseWriter, ch <-chan events.Event, heartbeat time.Duration) error {
	out := NewWriter(w, "", nil)
	if err := out.write(": connected\n\n"); err != nil {
		return err
	}

	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			body, err := json.Marshal(evt)
			if err != nil {
				return fmt.Errorf("stream: marshal event: %w", err)
			}
			if err := out.write(fmt.Sprintf("event: %s\ndata: %s\n\n", evt.Type, body)); err != nil {
				return err
			}
		case <-tick:
			if err := out.write(fmt.Sprintf(": ping %d\n\n", time.Now().Unix())); err != nil {
				return err
			}
		}
	}
}
