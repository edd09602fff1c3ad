package logger

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/sirupsen/logrus"
)

// maxLoggedWidth 单条消息内容在日志中保留的最大显示宽度，合同全文通常很长。
const maxLoggedWidth = 240

// LLMMessage 表示一次请求中的对话消息。
type LLMMessage struct {
	Role    string
	Content string
}

// LLMLogger 负责输出与 LLM 交互的请求、响应与错误信息。
type LLMLogger interface {
	Request(model string, messages []LLMMessage, step int)
	ToolCall(model string, name string, callID string)
	StreamComplete(model string, step int, chars int)
	Error(model string, err error, step int)
}

// LLMLog 是全局唯一的 LLM 日志器实例。
var LLMLog LLMLogger = NewLLMLogger(nil)

// SetGlobalLLMLogger 覆盖全局 LLM 日志实例，传入 nil 将重置为默认实现。
func SetGlobalLLMLogger(l LLMLogger) {
	if l == nil {
		l = NewLLMLogger(nil)
	}
	LLMLog = l
}

// StdLLMLogger 使用 logrus 输出日志。
type StdLLMLogger struct {
	logger *logrus.Entry
}

// NewLLMLogger 构造默认的 LLM 日志记录器。
func NewLLMLogger(l *Logger) *StdLLMLogger {
	if l == nil {
		l = root()
	}
	return &StdLLMLogger{logger: logrus.NewEntry(l).WithField("component", "llm")}
}

func (l *StdLLMLogger) Request(model string, messages []LLMMessage, step int) {
	l.logger.Infof("-> request step=%d model=%s messages=%d", step, model, len(messages))
	for i, msg := range messages {
		l.logger.Debugf("-> message[%d] role=%s content=%s", i, msg.Role, Clip(msg.Content))
	}
}

func (l *StdLLMLogger) ToolCall(model string, name string, callID string) {
	l.logger.Infof("<- tool_call model=%s name=%s id=%s", model, name, callID)
}

func (l *StdLLMLogger) StreamComplete(model string, step int, chars int) {
	l.logger.Infof("<- stream completed step=%d model=%s chars=%d", step, model, chars)
}

func (l *StdLLMLogger) Error(model string, err error, step int) {
	l.logger.Errorf("!! error step=%d model=%s err=%v", step, model, err)
}

// NoopLLMLogger 忽略所有日志输出。
type NoopLLMLogger struct{}

func (NoopLLMLogger) Request(string, []LLMMessage, int) {}
func (NoopLLMLogger) ToolCall(string, string, string)   {}
func (NoopLLMLogger) StreamComplete(string, int, int)   {}
func (NoopLLMLogger) Error(string, error, int)          {}

// Clip 去掉换行并按显示宽度截断，便于单行输出。
func Clip(text string) string {
	text = strings.ReplaceAll(text, "\n", `\n`)
	text = strings.ReplaceAll(text, "\r", `\r`)
	if runewidth.StringWidth(text) <= maxLoggedWidth {
		return text
	}
	return runewidth.Truncate(text, maxLoggedWidth, "…")
}
