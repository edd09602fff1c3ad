package tools

import (
	"context"
	"encoding/json"

	"contractguard/internal/agent"
)

// Executor 自动执行一次工具调用，返回值会被编码为 JSON 写回 output。
type Executor func(ctx context.Context, input json.RawMessage) (any, error)

// Tool 是注册表中的一项：对模型暴露的规范，以及可选的执行入口。
// Execute 为 nil 表示该工具需要人工确认，不会被自动执行。
type Tool struct {
	Spec    agent.ToolSpec
	Execute Executor
}

// Sink 接收状态发生变化的工具调用片段，用于实时推送给客户端。
type Sink interface {
	WritePart(messageID string, part agent.Part) error
}

// Decision 描述一次人工审批结果。
type Decision struct {
	ToolCallID string `json:"toolCallId"`
	Approved   bool   `json:"approved"`
}
