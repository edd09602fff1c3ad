package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"contractguard/internal/agent"
)

const sampleContract = `MASTER SERVICES AGREEMENT

This Agreement is entered into by Acme Corp (the "Customer") and Widgets Ltd (the "Supplier").

1. Term and Termination
Either party may terminate this Agreement on thirty days written notice.

2. Indemnification
The Supplier shall indemnify the Customer against all losses without limit.

3. Confidentiality
Each party shall keep the Confidential Information ("Confidential Information") secret.`

func TestParseContractSplitsParagraphs(t *testing.T) {
	c := ParseContract(strings.ReplaceAll(sampleContract, "\n", "\r\n"))
	if len(c.Paragraphs) != 5 {
		t.Fatalf("expected 5 paragraphs, got %d", len(c.Paragraphs))
	}
	if c.Paragraphs[2].Heading != "1. Term and Termination" || c.Paragraphs[2].Index != 3 {
		t.Fatalf("unexpected paragraph: %+v", c.Paragraphs[2])
	}
}

func TestLookupClause(t *testing.T) {
	c := ParseContract(sampleContract)

	got := c.LookupClause("Indemnification")
	if len(got) == 0 || got[0].Heading != "2. Indemnification" {
		t.Fatalf("expected indemnification heading match, got %+v", got)
	}

	got = c.LookupClause("thirty days")
	if len(got) != 1 || got[0].Heading != "1. Term and Termination" {
		t.Fatalf("expected body fallback match, got %+v", got)
	}

	if got := c.LookupClause("arbitration venue"); len(got) != 0 {
		t.Fatalf("expected no match, got %+v", got)
	}
	if got := c.LookupClause("  "); got != nil {
		t.Fatalf("expected nil for empty clause, got %+v", got)
	}
}

func TestDefinedTerms(t *testing.T) {
	got := ParseContract(sampleContract).DefinedTerms()
	want := []string{"Customer", "Supplier", "Confidential Information"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestContractToolsThroughReconcile(t *testing.T) {
	reg := ContractTools(sampleContract)
	if specs := reg.Specs(); len(specs) != 3 {
		t.Fatalf("unexpected tool specs: %+v", specs)
	}
	if _, ok := reg.Executor(ToolLookupClause); !ok {
		t.Fatalf("lookupClause should run automatically")
	}
	if _, ok := reg.Executor(ToolRequestLegalReview); ok {
		t.Fatalf("requestLegalReview must wait for confirmation")
	}

	in := []agent.Message{{ID: "a", Role: agent.RoleAssistant, Parts: []agent.Part{
		agent.ToolInvocationPart("c1", ToolLookupClause, agent.ToolInputAvailable, json.RawMessage(`{"clause":"termination"}`)),
		agent.ToolInvocationPart("c2", ToolLookupClause, agent.ToolInputAvailable, json.RawMessage(`{"clause":""}`)),
		agent.ToolInvocationPart("c3", ToolListDefinedTerms, agent.ToolInputAvailable, json.RawMessage(`{}`)),
		agent.ToolInvocationPart("c4", ToolRequestLegalReview, agent.ToolInputAvailable, json.RawMessage(`{"clause":"2"}`)),
	}}}
	out := Reconcile(context.Background(), in, reg, nil)
	parts := out[0].Parts

	var lookup struct {
		Found   bool        `json:"found"`
		Matches []Paragraph `json:"matches"`
	}
	if err := json.Unmarshal(parts[0].Output, &lookup); err != nil {
		t.Fatalf("decode lookup: %v", err)
	}
	if !lookup.Found || lookup.Matches[0].Heading != "1. Term and Termination" {
		t.Fatalf("unexpected lookup result: %s", parts[0].Output)
	}
	if parts[1].State != agent.ToolOutputError || string(parts[1].Output) != `"clause is required"` {
		t.Fatalf("expected clause validation error, got %+v", parts[1])
	}
	if string(parts[2].Output) != `{"terms":["Customer","Supplier","Confidential Information"]}` {
		t.Fatalf("unexpected terms output: %s", parts[2].Output)
	}
	if parts[3].State != agent.ToolInputAvailable {
		t.Fatalf("legal review must wait for confirmation, got %q", parts[3].State)
	}
}

func TestContractTextCollectsUserText(t *testing.T) {
	msgs := []agent.Message{
		{ID: "1", Role: agent.RoleUser, Parts: []agent.Part{agent.TextPart("first")}},
		{ID: "2", Role: agent.RoleAssistant, Parts: []agent.Part{agent.TextPart("ignored")}},
		{ID: "3", Role: agent.RoleUser, Parts: []agent.Part{agent.TextPart(" second ")}},
	}
	if got := ContractText(msgs); got != "first\n\nsecond" {
		t.Fatalf("unexpected contract text: %q", got)
	}
}
