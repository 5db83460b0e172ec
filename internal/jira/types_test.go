package jira

import (
	"encoding/json"
	"testing"
)

func Test_ADFText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"null", `null`, ""},
		{"empty", ``, ""},
		{"plain string", `"already plain"`, "already plain"},
		{
			"single paragraph",
			`{"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":"hello world"}]}]}`,
			"hello world",
		},
		{
			"multiple blocks become lines",
			`{"type":"doc","content":[
				{"type":"heading","content":[{"type":"text","text":"Title"}]},
				{"type":"paragraph","content":[{"type":"text","text":"Body text."}]}
			]}`,
			"Title\nBody text.",
		},
		{
			"inline marks are concatenated",
			`{"type":"doc","content":[{"type":"paragraph","content":[
				{"type":"text","text":"bold"},
				{"type":"text","text":" and plain"}
			]}]}`,
			"bold and plain",
		},
		{
			"bullet list items",
			`{"type":"doc","content":[{"type":"bulletList","content":[
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"one"}]}]},
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"two"}]}]}
			]}]}`,
			"one\ntwo",
		},
		{"garbage", `{{{`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adfText(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("adfText: want %q, got %q", tt.want, got)
			}
		})
	}
}

func Test_ToIssue_OutwardLinks(t *testing.T) {
	t.Parallel()

	raw := apiIssue{
		Key: "AL-9",
		Fields: apiFields{
			Summary: "Tracking issue",
			IssueLinks: []apiIssueLink{
				{OutwardIssue: &struct {
					Key string `json:"key"`
				}{Key: "AL-1"}},
				{}, // inward-only link contributes nothing
				{OutwardIssue: &struct {
					Key string `json:"key"`
				}{Key: "AL-2"}},
			},
		},
	}

	iss := raw.toIssue()
	if len(iss.Related) != 2 || iss.Related[0] != "AL-1" || iss.Related[1] != "AL-2" {
		t.Errorf("related: got %v", iss.Related)
	}
}
