package tools

import (
	"io"
	"strings"
	"sync"

	"contractguard/internal/agent"
	"contractguard/internal/logger"
)

// DefaultToolsLogPath 工具调用日志的默认路径。
const DefaultToolsLogPath = "logs/tools.log"

var (
	toolsLog       = logger.Named("tools")
	toolsLogMu     sync.Mutex
	toolsLogCloser io.Closer
)

// SetupToolsLog 将工具日志切换到独立文件，返回文件 closer 及实际路径。
// 多次调用只会在首次生效。
func SetupToolsLog(logPath string) (io.Closer, string, error) {
	toolsLogMu.Lock()
	defer toolsLogMu.Unlock()

	if toolsLogCloser != nil {
		return toolsLogCloser, logPath, nil
	}
	if logPath == "" {
		logPath = DefaultToolsLogPath
	}
	entry, closer, resolved, err := logger.SetupComponentFile("tools", logPath)
	if err != nil {
		return nil, resolved, err
	}
	toolsLog = entry
	toolsLogCloser = closer
	return closer, resolved, nil
}

func logToolCall(messageID string, part agent.Part, status string) {
	toolsLog.Infof("tool_call message=%s id=%s name=%s status=%s input=%s",
		messageID, part.ToolCallID, part.ToolName, status, sanitizeForLog(part.Input))
}

func logToolResult(messageID string, part agent.Part) {
	toolsLog.Infof("tool_result message=%s id=%s name=%s state=%s output=%s",
		messageID, part.ToolCallID, part.ToolName, part.State, sanitizeForLog(part.Output))
}

func sanitizeForLog(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "(empty)"
	}
	return logger.Clip(text)
}
