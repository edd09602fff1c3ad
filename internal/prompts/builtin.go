package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed text/*
var builtinFS embed.FS

// Name 表示内置提示词的唯一标识。
type Name string

const (
	PromptContractRisk Name = "contract-risk"
	PromptToolGuidance Name = "tool-guidance"
)

var builtinFiles = map[Name]string{
	PromptContractRisk: "text/contract_risk.md",
	PromptToolGuidance: "text/tool_guidance.md",
}

var builtinPrompts = func() map[Name]string {
	out := make(map[Name]string, len(builtinFiles))
	for name, path := range builtinFiles {
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			panic(fmt.Sprintf("load builtin prompt %q from %s: %v", name, path, err))
		}
		out[name] = strings.TrimSpace(string(data))
	}
	return out
}()

// Builtin 返回指定名称的内置提示词文本。
func Builtin(name Name) (string, bool) {
	text, ok := builtinPrompts[name]
	return text, ok
}

// System 返回固定的系统提示词；withTools 为 true 时附加工具使用说明。
func System(withTools bool) string {
	text := builtinPrompts[PromptContractRisk]
	if withTools {
		text += "\n\n" + builtinPrompts[PromptToolGuidance]
	}
	return text
}
