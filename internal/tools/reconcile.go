package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"contractguard/internal/agent"
)

// Reconcile resolves pending tool invocations before a history is replayed to
// the model. Messages are walked in order and parts in order; each pending
// invocation with an executor is run once, sequentially, and its updated part
// is written to sink as soon as it changes. Invocations without an executor
// stay input-available for a human decision. Executor failures are recorded
// in-band as output-error and never returned.
func Reconcile(ctx context.Context, msgs []agent.Message, registry *Registry, sink Sink) []agent.Message {
	out := agent.CloneMessages(msgs)
	for i := range out {
		msg := &out[i]
		for j, part := range msg.Parts {
			if !part.IsPending() {
				continue
			}
			exec, ok := registry.Executor(part.ToolName)
			if !ok {
				logToolCall(msg.ID, part, "awaiting_confirmation")
				continue
			}
			logToolCall(msg.ID, part, "executing")
			resolved := execute(ctx, exec, part)
			msg.Parts[j] = resolved
			logToolResult(msg.ID, resolved)
			emit(sink, msg.ID, resolved)
		}
	}
	return out
}

// NeedsConfirmation 报告历史中是否仍有等待人工确认的调用。
func NeedsConfirmation(msgs []agent.Message, registry *Registry) bool {
	for _, part := range agent.PendingToolCalls(msgs) {
		if _, ok := registry.Executor(part.ToolName); !ok {
			return true
		}
	}
	return false
}

func execute(ctx context.Context, exec Executor, part agent.Part) agent.Part {
	input := part.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	result, err := invoke(ctx, exec, input)
	if err != nil {
		return withError(part, err)
	}
	return withOutput(part, result)
}

func invoke(ctx context.Context, exec Executor, input json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return exec(ctx, input)
}

func withOutput(part agent.Part, result any) agent.Part {
	raw, err := json.Marshal(result)
	if err != nil {
		return withError(part, fmt.Errorf("encode tool output: %w", err))
	}
	part.State = agent.ToolOutputAvailable
	part.Output = raw
	return part
}

func withError(part agent.Part, err error) agent.Part {
	raw, _ := json.Marshal(err.Error())
	part.State = agent.ToolOutputError
	part.Output = raw
	return part
}

func emit(sink Sink, messageID string, part agent.Part) {
	if sink == nil {
		return
	}
	if err := sink.WritePart(messageID, part); err != nil {
		toolsLog.Warnf("sink write failed message=%s id=%s: %v", messageID, part.ToolCallID, err)
	}
}
