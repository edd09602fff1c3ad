package prompts

import (
	"errors"
	"reflect"
	"testing"
)

func TestSummarizeReport(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    ReportSummary
		wantErr error
	}{
		{
			name: "plain json",
			in: `{"summary":"Supplier-friendly MSA.","overall_risk":"High","risks":[
				{"clause":"2. Indemnification","severity":"high"},
				{"clause":"1. Term and Termination","severity":"Medium"},
				{"clause":"","severity":""}]}`,
			want: ReportSummary{
				Summary:     "Supplier-friendly MSA.",
				OverallRisk: "high",
				Risks:       3,
				BySeverity:  map[string]int{"high": 1, "medium": 1, "unknown": 1},
				Clauses:     []string{"2. Indemnification", "1. Term and Termination"},
			},
		},
		{
			name: "fenced with prose",
			in:   "Here is the analysis:\n```json\n{\"summary\":\"ok\",\"overall_risk\":\"low\",\"risks\":[]}\n```",
			want: ReportSummary{Summary: "ok", OverallRisk: "low", BySeverity: map[string]int{}},
		},
		{name: "no json", in: "I cannot review this.", wantErr: ErrNoReport},
		{name: "missing risks", in: `{"summary":"x"}`, wantErr: ErrNoReport},
		{name: "broken json", in: `{"summary": "x", "risks": [}`, wantErr: ErrNoReport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SummarizeReport(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("SummarizeReport() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SummarizeReport() error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("SummarizeReport() = %+v, want %+v", got, tc.want)
			}
		})
	}
}
