package agent

// Sanitize drops the last message when it is an assistant turn that still
// carries a tool invocation whose arguments are streaming. Everything else is
// returned as is; only the last message is inspected.
func Sanitize(msgs []Message) []Message {
	if len(msgs) == 0 {
		return msgs
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleAssistant {
		return msgs
	}
	for _, part := range last.Parts {
		if part.IsToolInvocation() && part.State == ToolInputStreaming {
			return msgs[:len(msgs)-1:len(msgs)-1]
		}
	}
	return msgs
}
