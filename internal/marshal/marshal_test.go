package marshal

import (
	"strings"
	"testing"
	"time"
)

func TestParseDocumentWithFrontmatter(t *testing.T) {
	content := []byte("---\ndate: 2026-03-14\ntitle: Notes\n---\nbody text\n")
	doc, err := ParseDocument(content)
	if err != nil {
		t.Fatalf("ParseDocument failed: %v", err)
	}
	if doc.Frontmatter["title"] != "Notes" {
		t.Errorf("title = %v", doc.Frontmatter["title"])
	}
	if doc.Body != "body text\n" {
		t.Errorf("body = %q", doc.Body)
	}
	if d := FrontmatterDate(doc.Frontmatter); d != "2026-03-14" {
		t.Errorf("date = %q, want 2026-03-14", d)
	}
}

func TestParseDocumentWithoutFrontmatter(t *testing.T) {
	doc, err := ParseDocument([]byte("# Just markdown\n"))
	if err != nil {
		t.Fatalf("ParseDocument failed: %v", err)
	}
	if len(doc.Frontmatter) != 0 {
		t.Errorf("frontmatter = %v, want empty", doc.Frontmatter)
	}
}

func TestParseDocumentUnclosedFrontmatter(t *testing.T) {
	if _, err := ParseDocument([]byte("---\ndate: 2026-01-01\n")); err == nil {
		t.Error("expected error for unclosed frontmatter")
	}
}

func TestFrontmatterDateFromTimestamp(t *testing.T) {
	fm := map[string]any{"created": "2026-03-14T09:30:00Z"}
	if d := FrontmatterDate(fm); d != "2026-03-14" {
		t.Errorf("date = %q", d)
	}
	if d := FrontmatterDate(map[string]any{"date": "not a date"}); d != "" {
		t.Errorf("date = %q, want empty", d)
	}
}

func TestIssueRender(t *testing.T) {
	issue, err := ParseIssue([]byte(`{
		"id": "ENG-12",
		"title": "Fix the flux capacitor",
		"status": "open",
		"created_at": "2026-02-01T10:00:00Z",
		"body": "It sparks.",
		"labels": ["bug"],
		"comments": [{"author": "ops", "date": "2026-02-02", "body": "Confirmed."}]
	}`))
	if err != nil {
		t.Fatalf("ParseIssue failed: %v", err)
	}
	if issue.Date() != "2026-02-01" {
		t.Errorf("Date = %q", issue.Date())
	}

	rendered, err := RenderIssue(issue)
	if err != nil {
		t.Fatalf("RenderIssue failed: %v", err)
	}
	text := string(rendered)
	for _, want := range []string{"Fix the flux capacitor", "It sparks.", "Confirmed.", "2026-02-01"} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered issue missing %q:\n%s", want, text)
		}
	}
}

func TestParseIssueRejectsUntitled(t *testing.T) {
	if _, err := ParseIssue([]byte(`{"id": "x"}`)); err == nil {
		t.Error("expected error for issue without title")
	}
}

func TestSessionRender(t *testing.T) {
	s := &Session{
		ID:        "abc",
		Project:   "/home/u/proj",
		StartedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		Prompts:   []string{"first prompt", "second\nprompt"},
	}
	if s.Date() != "2026-04-01" {
		t.Errorf("Date = %q", s.Date())
	}
	rendered, err := RenderSession(s)
	if err != nil {
		t.Fatalf("RenderSession failed: %v", err)
	}
	text := string(rendered)
	if !strings.Contains(text, "> first prompt") || !strings.Contains(text, "> second\n> prompt") {
		t.Errorf("rendered session:\n%s", text)
	}
}

func TestParseEntries(t *testing.T) {
	content := []byte(`# Concepts
Schema: engram/v1

## C001 — Ring buffer
Status: ACTIVE
Code: internal/ring.go, internal/cursor.go

Some prose.

## C002 — Old pipeline
Status: RETIRED
History:
- 2026-01-02: retired in favor of C001
- Evidence@abc1234 internal/pipe.go:10: removed

## Untitled thing
Status: ACTIVE
`)
	entries := ParseEntries(content)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].ID != "C001" || entries[0].Category != "C" || entries[0].Title != "Ring buffer" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	paths := PathList(entries[0].Fields["Code"])
	if len(paths) != 2 || paths[1] != "internal/cursor.go" {
		t.Errorf("paths = %v", paths)
	}
	if len(entries[1].History) != 2 || !strings.HasPrefix(entries[1].History[1], "Evidence@abc1234") {
		t.Errorf("history = %v", entries[1].History)
	}
	if entries[2].ID != "" || entries[2].Title != "Untitled thing" {
		t.Errorf("entry 2 = %+v", entries[2])
	}
}
