package agent

// ToolSpec 描述可供模型调用的工具定义，遵循 function 工具的通用 schema 约定。
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Prompt 代表一次模型调用的完整请求，包括模型、系统提示词、消息与工具配置。
type Prompt struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec
}
