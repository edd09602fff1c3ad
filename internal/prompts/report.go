package prompts

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoReport 表示模型输出中没有可解析的风险报告。
var ErrNoReport = errors.New("no JSON risk report in model output")

// ReportSummary 是风险报告的统计摘要。
type ReportSummary struct {
	Summary     string         `json:"summary"`
	OverallRisk string         `json:"overall_risk"`
	Risks       int            `json:"risks"`
	BySeverity  map[string]int `json:"by_severity"`
	Clauses     []string       `json:"clauses,omitempty"`
}

// SummarizeReport 从模型回复中提取 JSON 报告并统计各严重级别的风险数。
// 回复可能被 Markdown 代码块包裹，或在对象前后带有说明文字。
func SummarizeReport(text string) (ReportSummary, error) {
	raw, ok := extractObject(text)
	if !ok {
		return ReportSummary{}, ErrNoReport
	}
	doc := gjson.Parse(raw)
	risks := doc.Get("risks")
	if !risks.IsArray() {
		return ReportSummary{}, ErrNoReport
	}

	out := ReportSummary{
		Summary:     strings.TrimSpace(doc.Get("summary").String()),
		OverallRisk: strings.ToLower(strings.TrimSpace(doc.Get("overall_risk").String())),
		BySeverity:  map[string]int{},
	}
	risks.ForEach(func(_, risk gjson.Result) bool {
		out.Risks++
		severity := strings.ToLower(strings.TrimSpace(risk.Get("severity").String()))
		if severity == "" {
			severity = "unknown"
		}
		out.BySeverity[severity]++
		if clause := strings.TrimSpace(risk.Get("clause").String()); clause != "" {
			out.Clauses = append(out.Clauses, clause)
		}
		return true
	})
	return out, nil
}

func extractObject(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if gjson.Valid(text) && strings.HasPrefix(text, "{") {
		return text, true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}
