package adapters

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/marshal"
)

// ParseFunc reads a session-history file and reconstructs sessions whose
// working directory matches projectMatch (substring; empty matches all).
type ParseFunc func(path, projectMatch string) ([]marshal.Session, error)

var formats = map[string]ParseFunc{
	"claude-code": parseClaudeCode,
	"codex":       parseCodex,
}

// RegisterFormat installs an additional session-history format.
func RegisterFormat(name string, fn ParseFunc) {
	formats[name] = fn
}

// Sessions runs the configured session sources through their format parsers
// and renders each session. A missing history file is skipped.
func Sessions(srcs []config.SessionSource) ([]Item, error) {
	var items []Item
	for _, src := range srcs {
		parse, ok := formats[src.Format]
		if !ok {
			return nil, fmt.Errorf("unknown session format %q", src.Format)
		}
		sessions, err := parse(src.Path, src.ProjectMatch)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for i := range sessions {
			s := &sessions[i]
			date := s.Date()
			if date == "" || len(s.Prompts) == 0 {
				continue
			}
			rendered, err := marshal.RenderSession(s)
			if err != nil {
				continue
			}
			items = append(items, Item{
				Kind:      KindSession,
				Date:      date,
				Chars:     len(rendered),
				Content:   rendered,
				SessionID: s.ID,
			})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		return items[i].SessionID < items[j].SessionID
	})
	return items, nil
}

// claudeCodeLine is one record of the claude-code JSON-line history format.
type claudeCodeLine struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	Cwd       string `json:"cwd"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// parseClaudeCode groups JSONL history lines into sessions and keeps the
// user prompts. Malformed lines are skipped.
func parseClaudeCode(path, projectMatch string) ([]marshal.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byID := map[string]*marshal.Session{}
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		var line claudeCodeLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.SessionID == "" {
			continue
		}
		if projectMatch != "" && !strings.Contains(line.Cwd, projectMatch) {
			continue
		}
		s, ok := byID[line.SessionID]
		if !ok {
			s = &marshal.Session{ID: line.SessionID, Project: line.Cwd}
			byID[line.SessionID] = s
			order = append(order, line.SessionID)
		}
		if ts, err := time.Parse(time.RFC3339, line.Timestamp); err == nil {
			if s.StartedAt.IsZero() || ts.Before(s.StartedAt) {
				s.StartedAt = ts
			}
		}
		if line.Type == "user" && line.Message.Role == "user" {
			if text := contentText(line.Message.Content); text != "" {
				s.Prompts = append(s.Prompts, text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	sessions := make([]marshal.Session, 0, len(order))
	for _, id := range order {
		sessions = append(sessions, *byID[id])
	}
	return sessions, nil
}

// contentText extracts prompt text from a message content field, which is
// either a plain string or a list of typed blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// codexLine is one record of the codex JSON-line history format.
type codexLine struct {
	Session   string `json:"session"`
	Timestamp string `json:"timestamp"`
	Workdir   string `json:"workdir"`
	Input     string `json:"input"`
}

func parseCodex(path, projectMatch string) ([]marshal.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byID := map[string]*marshal.Session{}
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		var line codexLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Session == "" {
			continue
		}
		if projectMatch != "" && !strings.Contains(line.Workdir, projectMatch) {
			continue
		}
		s, ok := byID[line.Session]
		if !ok {
			s = &marshal.Session{ID: line.Session, Project: line.Workdir}
			byID[line.Session] = s
			order = append(order, line.Session)
		}
		if ts, err := time.Parse(time.RFC3339, line.Timestamp); err == nil {
			if s.StartedAt.IsZero() || ts.Before(s.StartedAt) {
				s.StartedAt = ts
			}
		}
		if line.Input != "" {
			s.Prompts = append(s.Prompts, line.Input)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	sessions := make([]marshal.Session, 0, len(order))
	for _, id := range order {
		sessions = append(sessions, *byID[id])
	}
	return sessions, nil
}
