package jira

import (
	"encoding/json"
	"strings"
)

// Issue is an immutable snapshot of one JIRA work item, flattened from the
// REST API's nested field structure. Snapshots are taken at index-build time;
// no update tracking happens afterwards.
type Issue struct {
	// Key is the issue key, unique within the tracker (e.g. "AL-42").
	Key string

	// Summary is the one-line issue title.
	Summary string

	// Description is the issue body as plain text, extracted from the
	// Atlassian Document Format payload returned by API v3.
	Description string

	// Status is the workflow status name (e.g. "In Progress").
	Status string

	// Assignee is the assignee display name, or "Unassigned" when the
	// tracker reports no assignee.
	Assignee string

	// Creator is the display name of the user who created the issue.
	Creator string

	// Created and Updated are the tracker's timestamps, kept as the raw
	// strings the API returns.
	Created string
	Updated string

	// Related holds the keys of outward-linked issues.
	Related []string

	// Comments holds the issue's comment thread in API order.
	Comments []Comment
}

// Comment is a single issue comment.
type Comment struct {
	// Author is the comment author's display name.
	Author string

	// Body is the comment text, extracted from ADF.
	Body string
}

// searchResponse is the JSON body returned by /rest/api/3/search.
type searchResponse struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []apiIssue `json:"issues"`
}

// apiIssue mirrors the nested issue shape of the search API.
type apiIssue struct {
	Key    string    `json:"key"`
	Fields apiFields `json:"fields"`
}

// apiFields holds the subset of issue fields the indexer consumes.
type apiFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"`
	Status      *apiNamed       `json:"status"`
	Assignee    *apiUser        `json:"assignee"`
	Creator     *apiUser        `json:"creator"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
	IssueLinks  []apiIssueLink  `json:"issuelinks"`
}

// apiNamed is any {"name": "..."} object (status, priority, ...).
type apiNamed struct {
	Name string `json:"name"`
}

// apiUser is any user object; only the display name is used.
type apiUser struct {
	DisplayName string `json:"displayName"`
}

// apiIssueLink is one entry of the issuelinks field. Only outward links
// contribute to Issue.Related, matching the tracker's link direction.
type apiIssueLink struct {
	OutwardIssue *struct {
		Key string `json:"key"`
	} `json:"outwardIssue"`
}

// commentsResponse is the JSON body returned by /rest/api/3/issue/{key}/comment.
type commentsResponse struct {
	Comments []apiComment `json:"comments"`
}

// apiComment is one comment entry of the comment API.
type apiComment struct {
	Author *apiUser        `json:"author"`
	Body   json.RawMessage `json:"body"`
}

// adfNode is a node of the Atlassian Document Format tree. API v3 returns
// rich-text fields (description, comment bodies) in this format; only the
// text leaves matter for indexing.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// adfText extracts the plain text of an ADF payload. Block-level nodes
// (paragraphs, headings, list items) become separate lines; inline text
// nodes within a block are concatenated. A raw JSON string (API v2 style
// or test fixtures) is accepted as-is. Returns "" for null or empty input.
func adfText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Plain string payload — nothing to walk.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var root adfNode
	if err := json.Unmarshal(raw, &root); err != nil {
		return ""
	}

	var blocks []string
	collectADFBlocks(&root, &blocks)
	return strings.TrimSpace(strings.Join(blocks, "\n"))
}

// collectADFBlocks walks the ADF tree depth-first, appending one string per
// block-level node that contains text.
func collectADFBlocks(n *adfNode, blocks *[]string) {
	var inline strings.Builder
	gatherInlineText(n, &inline)

	switch n.Type {
	case "paragraph", "heading", "codeBlock", "blockquote", "listItem":
		if text := strings.TrimSpace(inline.String()); text != "" {
			*blocks = append(*blocks, text)
		}
		return
	}

	for i := range n.Content {
		collectADFBlocks(&n.Content[i], blocks)
	}
}

// gatherInlineText concatenates every text leaf under n.
func gatherInlineText(n *adfNode, sb *strings.Builder) {
	if n.Text != "" {
		sb.WriteString(n.Text)
	}
	for i := range n.Content {
		gatherInlineText(&n.Content[i], sb)
	}
}

// toIssue flattens an apiIssue into the package's Issue type.
// Comments are attached separately by the client.
func (a *apiIssue) toIssue() Issue {
	iss := Issue{
		Key:         a.Key,
		Summary:     strings.TrimSpace(a.Fields.Summary),
		Description: adfText(a.Fields.Description),
		Created:     a.Fields.Created,
		Updated:     a.Fields.Updated,
		Assignee:    "Unassigned",
	}
	if a.Fields.Status != nil {
		iss.Status = a.Fields.Status.Name
	}
	if a.Fields.Assignee != nil && a.Fields.Assignee.DisplayName != "" {
		iss.Assignee = a.Fields.Assignee.DisplayName
	}
	if a.Fields.Creator != nil {
		iss.Creator = a.Fields.Creator.DisplayName
	}
	for _, link := range a.Fields.IssueLinks {
		if link.OutwardIssue != nil && link.OutwardIssue.Key != "" {
			iss.Related = append(iss.Related, link.OutwardIssue.Key)
		}
	}
	return iss
}
