package marshal

import (
	"fmt"
	"strings"
	"time"
)

// Session is one collaborator session reconstructed from a history file.
type Session struct {
	ID        string
	Project   string
	StartedAt time.Time
	Prompts   []string
}

// Date returns the session's logical YYYY-MM-DD date.
func (s *Session) Date() string {
	if s.StartedAt.IsZero() {
		return ""
	}
	return s.StartedAt.Format("2006-01-02")
}

// RenderSession renders a session transcript as markdown with frontmatter.
func RenderSession(s *Session) ([]byte, error) {
	fm := map[string]any{
		"kind":    "session",
		"session": s.ID,
		"date":    s.Date(),
	}
	if s.Project != "" {
		fm["project"] = s.Project
	}

	var body strings.Builder
	fmt.Fprintf(&body, "# Session %s\n", s.ID)
	for _, p := range s.Prompts {
		body.WriteString("\n> ")
		body.WriteString(strings.ReplaceAll(strings.TrimSpace(p), "\n", "\n> "))
		body.WriteString("\n")
	}

	return RenderDocument(&Document{Frontmatter: fm, Body: body.String()})
}
