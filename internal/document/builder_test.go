package document

import (
	"errors"
	"testing"

	"github.com/KixPanganiban/jiraiya-go/internal/jira"
)

func Test_Build_FullIssue(t *testing.T) {
	t.Parallel()

	issue := jira.Issue{
		Key:         "AL-1",
		Summary:     "  Fix login bug  ",
		Description: "Users cannot log in with SSO.",
		Status:      "In Progress",
		Assignee:    "Kix",
		Creator:     "Sam",
		Created:     "2024-01-01T00:00:00.000+0000",
		Updated:     "2024-01-02T00:00:00.000+0000",
		Related:     []string{"AL-7"},
		Comments: []jira.Comment{
			{Author: "Sam", Body: "Happens on staging too."},
		},
	}

	doc, err := Build(issue, "example.atlassian.net")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if doc.ID != "AL-1" {
		t.Errorf("id: got %q", doc.ID)
	}
	want := "Summary: Fix login bug\n" +
		"Description: Users cannot log in with SSO.\n" +
		"Status: In Progress\n" +
		"Assignee: Kix\n" +
		"Comment by Sam: Happens on staging too."
	if doc.Content != want {
		t.Errorf("content:\nwant %q\ngot  %q", want, doc.Content)
	}
	if doc.Source != "https://example.atlassian.net/browse/AL-1" {
		t.Errorf("source: got %q", doc.Source)
	}
	if doc.Metadata["assignee"] != "Kix" || doc.Metadata["status"] != "In Progress" || doc.Metadata["related"] != "AL-7" {
		t.Errorf("metadata: got %v", doc.Metadata)
	}
}

func Test_Build_DropsEmptyFields(t *testing.T) {
	t.Parallel()

	doc, err := Build(jira.Issue{Key: "AL-2", Summary: "Write docs"}, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if doc.Content != "Summary: Write docs" {
		t.Errorf("content: got %q", doc.Content)
	}
	if doc.Source != "" {
		t.Errorf("source: got %q", doc.Source)
	}
	if _, ok := doc.Metadata["description"]; ok {
		t.Error("metadata should not contain empty fields")
	}
}

func Test_Build_IsDeterministic(t *testing.T) {
	t.Parallel()

	issue := jira.Issue{Key: "AL-3", Summary: "Upgrade database", Status: "Done", Assignee: "Sam"}
	a, err := Build(issue, "example.atlassian.net")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := Build(issue, "example.atlassian.net")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Content != b.Content || a.ID != b.ID {
		t.Error("Build must be deterministic for the same input")
	}
}

func Test_Build_InvalidIssues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		issue jira.Issue
	}{
		{"missing key", jira.Issue{Summary: "no key"}},
		{"missing summary", jira.Issue{Key: "AL-4"}},
		{"whitespace summary", jira.Issue{Key: "AL-5", Summary: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.issue, ""); !errors.Is(err, ErrInvalidIssue) {
				t.Errorf("want ErrInvalidIssue, got %v", err)
			}
		})
	}
}
