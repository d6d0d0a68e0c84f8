package marshal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Issue is one tracker issue as stored in the issues source directory.
type Issue struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	Body      string    `json:"body"`
	Labels    []string  `json:"labels"`
	Comments  []Comment `json:"comments"`
}

type Comment struct {
	Author string `json:"author"`
	Date   string `json:"date"`
	Body   string `json:"body"`
}

// ParseIssue decodes an issue JSON record.
func ParseIssue(data []byte) (*Issue, error) {
	var issue Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, fmt.Errorf("parse issue: %w", err)
	}
	if issue.Title == "" {
		return nil, fmt.Errorf("issue has no title")
	}
	return &issue, nil
}

// Date returns the issue's logical YYYY-MM-DD date (creation time).
func (i *Issue) Date() string {
	return normalizeDate(i.CreatedAt)
}

// RenderIssue renders an issue as markdown with YAML frontmatter.
func RenderIssue(issue *Issue) ([]byte, error) {
	fm := map[string]any{
		"kind":  "issue",
		"title": issue.Title,
		"date":  issue.Date(),
	}
	if issue.ID != "" {
		fm["id"] = issue.ID
	}
	if issue.Status != "" {
		fm["status"] = issue.Status
	}
	if len(issue.Labels) > 0 {
		fm["labels"] = issue.Labels
	}

	var body strings.Builder
	fmt.Fprintf(&body, "# %s\n", issue.Title)
	if issue.Body != "" {
		body.WriteString("\n")
		body.WriteString(strings.TrimRight(issue.Body, "\n"))
		body.WriteString("\n")
	}
	for _, c := range issue.Comments {
		fmt.Fprintf(&body, "\n**%s** (%s):\n\n%s\n", c.Author, normalizeDate(c.Date), strings.TrimRight(c.Body, "\n"))
	}

	return RenderDocument(&Document{Frontmatter: fm, Body: body.String()})
}
