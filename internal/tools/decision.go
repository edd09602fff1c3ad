package tools

import (
	"context"
	"errors"
	"fmt"

	"contractguard/internal/agent"
)

// ErrNoPendingCall 表示找不到处于 input-available 的对应调用。
var ErrNoPendingCall = errors.New("no pending tool call with that id")

// errDenied 是用户拒绝时写回的错误描述。
var errDenied = errors.New("user denied tool execution")

// ApplyDecision 在带外解决一次等待人工确认的调用。
// 批准时执行 confirmations 中登记的处理器；没有处理器或拒绝时写入 output-error。
func ApplyDecision(ctx context.Context, msgs []agent.Message, decision Decision, confirmations *Registry, sink Sink) ([]agent.Message, error) {
	out := agent.CloneMessages(msgs)
	for i := range out {
		msg := &out[i]
		for j, part := range msg.Parts {
			if part.ToolCallID != decision.ToolCallID || !part.IsToolInvocation() {
				continue
			}
			if !part.IsPending() {
				return msgs, ErrNoPendingCall
			}
			logToolCall(msg.ID, part, decisionStatus(decision.Approved))

			var resolved agent.Part
			switch exec, ok := confirmations.Executor(part.ToolName); {
			case !decision.Approved:
				resolved = withError(part, errDenied)
			case ok:
				resolved = execute(ctx, exec, part)
			default:
				resolved = withError(part, fmt.Errorf("tool %q has no handler", part.ToolName))
			}
			msg.Parts[j] = resolved
			logToolResult(msg.ID, resolved)
			emit(sink, msg.ID, resolved)
			return out, nil
		}
	}
	return msgs, ErrNoPendingCall
}

func decisionStatus(approved bool) string {
	if approved {
		return "approved"
	}
	return "denied"
}
