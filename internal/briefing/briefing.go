// Package briefing regenerates the L0 briefing: a compressed summary of the
// living docs written into one section of the configured target file.
package briefing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/marshal"
)

// maxEntriesPerDoc bounds how much of each living doc the briefing carries.
const maxEntriesPerDoc = 12

// Regenerate rewrites the briefing section of the target file from the
// living docs. It is a pure function of the docs on disk; callers own the
// staleness flag.
func Regenerate(root string, cfg *config.Config) error {
	var sb strings.Builder
	sb.WriteString(cfg.Briefing.Section + "\n\n")

	for _, doc := range cfg.LivingDocs() {
		data, err := os.ReadFile(filepath.Join(root, doc))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", doc, err)
		}
		entries := marshal.ParseEntries(data)
		fmt.Fprintf(&sb, "### %s (%d entries)\n", filepath.Base(doc), len(entries))
		for i, e := range entries {
			if i == maxEntriesPerDoc {
				fmt.Fprintf(&sb, "- … %d more\n", len(entries)-maxEntriesPerDoc)
				break
			}
			line := "- "
			if e.ID != "" {
				line += e.ID + " "
			}
			line += e.Title
			if status := e.Fields["Status"]; status != "" {
				line += " [" + status + "]"
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	return replaceSection(filepath.Join(root, cfg.Briefing.File), cfg.Briefing.Section, strings.TrimRight(sb.String(), "\n")+"\n")
}

// replaceSection swaps the named section (from its heading to the next
// heading of the same level or EOF) for the rendered content, creating the
// file or appending the section when absent.
func replaceSection(path, heading, content string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(content), 0644)
	}

	text := string(data)
	start := strings.Index(text, heading)
	if start == -1 {
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		return os.WriteFile(path, []byte(text+"\n"+content), 0644)
	}

	level := strings.Repeat("#", strings.Count(strings.SplitN(heading, " ", 2)[0], "#"))
	rest := text[start+len(heading):]
	end := len(text)
	for _, idx := range headingOffsets(rest, level) {
		end = start + len(heading) + idx
		break
	}
	return os.WriteFile(path, []byte(text[:start]+content+text[end:]), 0644)
}

// headingOffsets finds offsets of same-level headings in text.
func headingOffsets(text, level string) []int {
	var out []int
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSuffix(line, "\n")
		if strings.HasPrefix(trimmed, level+" ") {
			out = append(out, offset)
		}
		offset += len(line)
	}
	return out
}
