// Package marshal converts between Engram's markdown artifacts and their
// structured forms: YAML frontmatter, issue records, session transcripts.
package marshal

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Document is a markdown file split into YAML frontmatter and body.
type Document struct {
	Frontmatter map[string]any
	Body        string
}

// ParseDocument splits a markdown document into frontmatter and body.
// A document without a leading delimiter has an empty frontmatter map.
func ParseDocument(content []byte) (*Document, error) {
	str := string(content)

	if !strings.HasPrefix(str, delimiter) {
		return &Document{Frontmatter: map[string]any{}, Body: str}, nil
	}

	rest := str[len(delimiter):]
	idx := strings.Index(rest, "\n"+delimiter)
	if idx == -1 {
		return nil, fmt.Errorf("unclosed frontmatter")
	}

	fmYAML := rest[:idx]
	body := strings.TrimPrefix(rest[idx+len("\n"+delimiter):], "\n")

	var frontmatter map[string]any
	if err := yaml.Unmarshal([]byte(fmYAML), &frontmatter); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if frontmatter == nil {
		frontmatter = map[string]any{}
	}

	return &Document{Frontmatter: frontmatter, Body: body}, nil
}

// RenderDocument combines frontmatter and body back into markdown.
func RenderDocument(doc *Document) ([]byte, error) {
	var buf bytes.Buffer

	if len(doc.Frontmatter) > 0 {
		buf.WriteString(delimiter + "\n")
		fmBytes, err := yaml.Marshal(doc.Frontmatter)
		if err != nil {
			return nil, fmt.Errorf("marshal frontmatter: %w", err)
		}
		buf.Write(fmBytes)
		buf.WriteString(delimiter + "\n")
	}

	buf.WriteString(doc.Body)
	return buf.Bytes(), nil
}

// FrontmatterDate extracts a YYYY-MM-DD date from frontmatter, looking at
// the conventional keys in order. Returns "" when none parse.
func FrontmatterDate(fm map[string]any) string {
	for _, key := range []string{"date", "created", "updated"} {
		v, ok := fm[key]
		if !ok {
			continue
		}
		if d := normalizeDate(fmt.Sprintf("%v", v)); d != "" {
			return d
		}
	}
	return ""
}

// normalizeDate accepts YYYY-MM-DD or any string with that prefix (RFC3339
// timestamps included) and returns the 10-character date, or "".
func normalizeDate(s string) string {
	if len(s) < 10 {
		return ""
	}
	s = s[:10]
	for i, r := range s {
		if i == 4 || i == 7 {
			if r != '-' {
				return ""
			}
			continue
		}
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s
}
