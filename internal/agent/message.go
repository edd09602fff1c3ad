package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType 区分消息片段的种类。
type PartType string

const (
	PartText           PartType = "text"
	PartToolInvocation PartType = "tool-invocation"
)

// ToolState 描述一次工具调用所处的阶段。
type ToolState string

const (
	// ToolInputStreaming 参数仍在流式生成，尚不完整。
	ToolInputStreaming ToolState = "input-streaming"
	// ToolInputAvailable 参数已确定，等待自动执行或人工确认。
	ToolInputAvailable ToolState = "input-available"

	ToolOutputAvailable ToolState = "output-available"
	ToolOutputError     ToolState = "output-error"
)

// Part 是消息中的一个语义单元：文本或工具调用。
type Part struct {
	Type PartType `json:"type"`

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// Metadata 保存消息的附加信息。
type Metadata struct {
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

type Message struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	Parts    []Part    `json:"parts"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// TextPart 构造文本片段。
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ToolInvocationPart 构造处于 state 状态的工具调用片段。
func ToolInvocationPart(id, name string, state ToolState, input json.RawMessage) Part {
	return Part{
		Type:       PartToolInvocation,
		ToolCallID: id,
		ToolName:   name,
		State:      state,
		Input:      input,
	}
}

func (p Part) IsToolInvocation() bool { return p.Type == PartToolInvocation }

// IsPending 表示参数已完整但尚无结果的工具调用。
func (p Part) IsPending() bool {
	return p.Type == PartToolInvocation && p.State == ToolInputAvailable
}

// IsResolved 表示工具调用已经有输出（成功或失败）。
func (p Part) IsResolved() bool {
	return p.Type == PartToolInvocation && (p.State == ToolOutputAvailable || p.State == ToolOutputError)
}

// Text 拼接消息中所有文本片段。
func (m Message) Text() string {
	var sb strings.Builder
	for _, part := range m.Parts {
		if part.Type != PartText || part.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// Clone 返回不与原消息共享 Parts 底层数组的副本。
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		for i, part := range m.Parts {
			out.Parts[i] = part.clone()
		}
	}
	if m.Metadata != nil {
		meta := *m.Metadata
		out.Metadata = &meta
	}
	return out
}

func (p Part) clone() Part {
	out := p
	out.Input = cloneRaw(p.Input)
	out.Output = cloneRaw(p.Output)
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// CloneMessages 深拷贝消息列表。
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Clone()
	}
	return out
}

// ValidateToolCallIDs 检查会话中的 toolCallId 是否唯一。
func ValidateToolCallIDs(msgs []Message) error {
	seen := make(map[string]string)
	for _, msg := range msgs {
		for _, part := range msg.Parts {
			if !part.IsToolInvocation() {
				continue
			}
			if strings.TrimSpace(part.ToolCallID) == "" {
				return fmt.Errorf("message %s: tool invocation %q has empty toolCallId", msg.ID, part.ToolName)
			}
			if prev, ok := seen[part.ToolCallID]; ok {
				return fmt.Errorf("duplicate toolCallId %q in messages %s and %s", part.ToolCallID, prev, msg.ID)
			}
			seen[part.ToolCallID] = msg.ID
		}
	}
	return nil
}

// PendingToolCalls 返回仍处于 input-available 的工具调用。
func PendingToolCalls(msgs []Message) []Part {
	var out []Part
	for _, msg := range msgs {
		for _, part := range msg.Parts {
			if part.IsPending() {
				out = append(out, part)
			}
		}
	}
	return out
}
