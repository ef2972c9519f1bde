package generation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmphasizeLabels(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain labels",
			in:   "Scheme Name: PMJDY\nPurpose: inclusion",
			want: "**Scheme Name:** PMJDY\n**Purpose:** inclusion",
		},
		{
			name: "longer label wins",
			in:   "Key Benefits: zero balance",
			want: "**Key Benefits:** zero balance",
		},
		{
			name: "overview label",
			in:   "Application Process Overview: visit a bank",
			want: "**Application Process Overview:** visit a bank",
		},
		{
			name: "already bold",
			in:   "**Eligibility:** citizens",
			want: "**Eligibility:** citizens",
		},
		{
			name: "half bold is normalized",
			in:   "**Source: gazette",
			want: "**Source:** gazette",
		},
		{
			name: "no labels",
			in:   "Nothing to see here.",
			want: "Nothing to see here.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EmphasizeLabels(tt.in))
		})
	}
}

func TestLinkWebsites(t *testing.T) {
	got := FormatAnswer("Website Link: https://pmjdy.gov.in")
	assert.Equal(t, "**Website Link:** [https://pmjdy.gov.in](https://pmjdy.gov.in)", got)
	assert.Equal(t, 1, strings.Count(got, "](https://pmjdy.gov.in)"))

	got = FormatAnswer("Website Link: https://pmjdy.gov.in.")
	assert.Equal(t, "**Website Link:** [https://pmjdy.gov.in](https://pmjdy.gov.in).", got)
}

func TestLinkWebsites_Parentheses(t *testing.T) {
	got := FormatAnswer("Website Link: https://x.gov.in/a_(b)")
	assert.Equal(t, "**Website Link:** [https://x.gov.in/a_(b)](https://x.gov.in/a_(b))", got)

	got = FormatAnswer("(Website Link: https://x.gov.in/a_(b)).")
	assert.Equal(t, "(**Website Link:** [https://x.gov.in/a_(b)](https://x.gov.in/a_(b))).", got)

	got = FormatAnswer("(Website Link: https://pmjdy.gov.in)")
	assert.Equal(t, "(**Website Link:** [https://pmjdy.gov.in](https://pmjdy.gov.in))", got)
	assert.Equal(t, got, FormatAnswer(got))
}

func TestLinkWebsites_OnlyAfterLabel(t *testing.T) {
	in := "See https://example.gov.in for details."
	assert.Equal(t, in, FormatAnswer(in))
}

func TestApplicationProcessSteps(t *testing.T) {
	in := "Application Process:\n   1. Visit a bank branch\n   2. Fill the form\n  - Carry Aadhaar\n\n   3. Not part of the section"
	want := "**Application Process:**\n1. Visit a bank branch\n2. Fill the form\n- Carry Aadhaar\n\n   3. Not part of the section"

	assert.Equal(t, want, FormatAnswer(in))
}

func TestApplicationProcess_BlankLineAfterHeader(t *testing.T) {
	in := "**Application Process:**\n\n  1. Apply online\n  2. Upload documents"
	want := "**Application Process:**\n\n1. Apply online\n2. Upload documents"

	assert.Equal(t, want, FormatAnswer(in))
}

func TestFormatAnswer_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"Scheme Name: PMJDY\nMinistry/Department: Finance\nKey Benefits: accident cover\nWebsite Link: https://pmjdy.gov.in",
		"**Scheme Name:** Already done\n**Website Link:** [https://a.gov.in](https://a.gov.in)",
		"Application Process:\n  1. one\n  * two\n\nSource: gazette",
		"Benefits: Benefits: twice",
	}

	for _, in := range inputs {
		once := FormatAnswer(in)
		assert.Equal(t, once, FormatAnswer(once), "input %q", in)
	}
}
