package tools

import "contractguard/internal/agent"

// Registry 按名称保存工具，构造后只读。
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry 按注册顺序建立工具表；同名工具以后注册者为准。
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Spec.Name
		if name == "" {
			continue
		}
		if _, ok := r.tools[name]; !ok {
			r.order = append(r.order, name)
		}
		r.tools[name] = t
	}
	return r
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Executor 返回可自动执行的入口；未注册或需要人工确认的工具返回 false。
func (r *Registry) Executor(name string) (Executor, bool) {
	t, ok := r.Lookup(name)
	if !ok || t.Execute == nil {
		return nil, false
	}
	return t.Execute, true
}

// Specs 返回按注册顺序排列的工具规范。
func (r *Registry) Specs() []agent.ToolSpec {
	if r == nil {
		return nil
	}
	out := make([]agent.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Spec)
	}
	return out
}
