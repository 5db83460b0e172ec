// Package document converts JIRA issue snapshots into normalized retrieval
// documents. Build is a pure function: same issue in, same document out,
// which keeps the indexed text stable and diff-able across rebuilds.
package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KixPanganiban/jiraiya-go/internal/jira"
	"github.com/KixPanganiban/jiraiya-go/internal/rag"
)

// ErrInvalidIssue is returned for issues missing a required field.
// The init pipeline skips such issues and continues.
var ErrInvalidIssue = errors.New("document: invalid issue")

// fieldDelimiter joins the labeled sections of the document text.
// A fixed delimiter keeps output stable for tests and diffs.
const fieldDelimiter = "\n"

// Build converts one issue into a retrieval document. The document text is
// a newline-joined list of labeled, whitespace-trimmed sections; empty
// fields are dropped rather than embedded as blanks. Key and Summary are
// required — anything else is optional.
func Build(issue jira.Issue, domain string) (rag.Document, error) {
	key := strings.TrimSpace(issue.Key)
	summary := strings.TrimSpace(issue.Summary)
	if key == "" {
		return rag.Document{}, fmt.Errorf("%w: missing key", ErrInvalidIssue)
	}
	if summary == "" {
		return rag.Document{}, fmt.Errorf("%w: issue %s has no summary", ErrInvalidIssue, key)
	}

	sections := []string{
		"Summary: " + summary,
	}
	if desc := strings.TrimSpace(issue.Description); desc != "" {
		sections = append(sections, "Description: "+desc)
	}
	if status := strings.TrimSpace(issue.Status); status != "" {
		sections = append(sections, "Status: "+status)
	}
	if assignee := strings.TrimSpace(issue.Assignee); assignee != "" {
		sections = append(sections, "Assignee: "+assignee)
	}
	for _, c := range issue.Comments {
		body := strings.TrimSpace(c.Body)
		if body == "" {
			continue
		}
		author := strings.TrimSpace(c.Author)
		if author == "" {
			author = "Unknown"
		}
		sections = append(sections, "Comment by "+author+": "+body)
	}

	doc := rag.Document{
		ID:       key,
		Content:  strings.Join(sections, fieldDelimiter),
		Metadata: buildMetadata(issue),
	}
	if domain != "" {
		doc.Source = "https://" + domain + "/browse/" + key
	}
	return doc, nil
}

// buildMetadata flattens the issue's non-text fields into string metadata.
// Empty fields are omitted so the metadata map stays sparse.
func buildMetadata(issue jira.Issue) map[string]string {
	meta := map[string]string{
		"key": strings.TrimSpace(issue.Key),
	}
	put := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	put("summary", issue.Summary)
	put("status", issue.Status)
	put("assignee", issue.Assignee)
	put("creator", issue.Creator)
	put("created", issue.Created)
	put("updated", issue.Updated)
	put("related", strings.Join(issue.Related, ", "))
	return meta
}
