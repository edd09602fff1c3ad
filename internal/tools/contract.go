package tools

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"contractguard/internal/agent"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"
	"github.com/tidwall/gjson"
)

const (
	ToolLookupClause       = "lookupClause"
	ToolListDefinedTerms   = "listDefinedTerms"
	ToolRequestLegalReview = "requestLegalReview"
)

const (
	maxClauseMatches   = 3
	maxHeadingRunes    = 80
	maxParagraphRunes  = 1200
	paragraphSeparator = "\n\n"
)

type LookupClauseInput struct {
	Clause string `json:"clause" jsonschema_description:"Clause name or topic to find in the contract, e.g. termination, indemnification."`
}

type ListDefinedTermsInput struct{}

type RequestLegalReviewInput struct {
	Clause string `json:"clause" jsonschema_description:"Clause that needs review by a lawyer."`
	Reason string `json:"reason" jsonschema_description:"Why the clause needs human legal review."`
}

// Paragraph 是合同正文中以空行分隔的一段。
type Paragraph struct {
	Index   int    `json:"paragraph"`
	Heading string `json:"heading"`
	Text    string `json:"text"`
}

// Contract 是按段落切分后的合同正文。
type Contract struct {
	Paragraphs []Paragraph
}

// ParseContract 以空行切分段落，段首较短的一行视为标题。
func ParseContract(text string) Contract {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out Contract
	for _, block := range strings.Split(text, paragraphSeparator) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		heading, _, _ := strings.Cut(block, "\n")
		heading = strings.TrimSpace(heading)
		if r := []rune(heading); len(r) > maxHeadingRunes {
			heading = string(r[:maxHeadingRunes])
		}
		out.Paragraphs = append(out.Paragraphs, Paragraph{
			Index:   len(out.Paragraphs) + 1,
			Heading: heading,
			Text:    block,
		})
	}
	return out
}

// ContractText 取出会话中所有用户文本，作为待审查的合同正文。
func ContractText(msgs []agent.Message) string {
	var parts []string
	for _, msg := range msgs {
		if msg.Role != agent.RoleUser {
			continue
		}
		if text := strings.TrimSpace(msg.Text()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, paragraphSeparator)
}

// headings 实现 fuzzy.Source。
type headings []Paragraph

func (h headings) String(i int) string { return strings.ToLower(h[i].Heading) }
func (h headings) Len() int            { return len(h) }

// LookupClause 在标题中模糊匹配条款名，标题无命中时退回到正文子串匹配。
func (c Contract) LookupClause(clause string) []Paragraph {
	query := strings.ToLower(strings.TrimSpace(clause))
	if query == "" {
		return nil
	}
	var out []Paragraph
	for _, m := range fuzzy.FindFrom(query, headings(c.Paragraphs)) {
		out = append(out, clipParagraph(c.Paragraphs[m.Index]))
		if len(out) == maxClauseMatches {
			return out
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, p := range c.Paragraphs {
		if strings.Contains(strings.ToLower(p.Text), query) {
			out = append(out, clipParagraph(p))
			if len(out) == maxClauseMatches {
				break
			}
		}
	}
	return out
}

var definedTermPattern = regexp.MustCompile(`\(\s*(?:the\s+|each,?\s+a\s+)?["“]([^"”]{1,60})["”]\s*\)`)

// DefinedTerms 提取形如 (the "Term") 的定义术语，按首次出现排序去重。
func (c Contract) DefinedTerms() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range c.Paragraphs {
		for _, m := range definedTermPattern.FindAllStringSubmatch(p.Text, -1) {
			term := strings.TrimSpace(m[1])
			if term == "" {
				continue
			}
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			out = append(out, term)
		}
	}
	return out
}

func clipParagraph(p Paragraph) Paragraph {
	if r := []rune(p.Text); len(r) > maxParagraphRunes {
		p.Text = string(r[:maxParagraphRunes]) + "…"
	}
	return p
}

// ContractTools 为一次请求构造工具表，自动执行的工具只读取本次会话的合同正文。
func ContractTools(contractText string) *Registry {
	contract := ParseContract(contractText)
	return NewRegistry(
		Tool{
			Spec: agent.ToolSpec{
				Name:        ToolLookupClause,
				Description: "Find the paragraphs of the submitted contract that deal with a given clause or topic.",
				Parameters:  GenerateSchema[LookupClauseInput](),
			},
			Execute: func(_ context.Context, input json.RawMessage) (any, error) {
				clause := strings.TrimSpace(gjson.GetBytes(input, "clause").String())
				if clause == "" {
					return nil, errors.New("clause is required")
				}
				matches := contract.LookupClause(clause)
				return map[string]any{
					"clause":  clause,
					"found":   len(matches) > 0,
					"matches": matches,
				}, nil
			},
		},
		Tool{
			Spec: agent.ToolSpec{
				Name:        ToolListDefinedTerms,
				Description: "List the defined terms declared in the submitted contract.",
				Parameters:  GenerateSchema[ListDefinedTermsInput](),
			},
			Execute: func(context.Context, json.RawMessage) (any, error) {
				terms := contract.DefinedTerms()
				if terms == nil {
					terms = []string{}
				}
				return map[string]any{"terms": terms}, nil
			},
		},
		Tool{
			Spec: agent.ToolSpec{
				Name:        ToolRequestLegalReview,
				Description: "Escalate a high-risk clause to a human lawyer. Requires the user's confirmation before it runs.",
				Parameters:  GenerateSchema[RequestLegalReviewInput](),
			},
		},
	)
}

// Confirmations 返回人工批准后才执行的处理器。
func Confirmations() *Registry {
	return NewRegistry(Tool{
		Spec: agent.ToolSpec{Name: ToolRequestLegalReview},
		Execute: func(_ context.Context, input json.RawMessage) (any, error) {
			clause := strings.TrimSpace(gjson.GetBytes(input, "clause").String())
			if clause == "" {
				return nil, errors.New("clause is required")
			}
			return map[string]any{
				"ticket":   "rev_" + uuid.NewString(),
				"clause":   clause,
				"reason":   gjson.GetBytes(input, "reason").String(),
				"status":   "queued",
				"queuedAt": time.Now().UTC().Format(time.RFC3339),
			}, nil
		},
	})
}
