// Package lint validates the schema of living and graveyard documents. The
// dispatcher depends only on the Linter interface; the builtin rule set here
// is intentionally small and replaceable.
package lint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/marshal"
)

// SchemaHeader is the marker line every living document must carry.
const SchemaHeader = "Schema: engram/v1"

// Violation is one schema failure.
type Violation struct {
	File string
	Line int
	Msg  string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d: %s", v.File, v.Line, v.Msg)
}

// Result is a pass/fail plus the violation list.
type Result struct {
	Violations []Violation
}

// OK reports a clean pass.
func (r *Result) OK() bool {
	return len(r.Violations) == 0
}

// Messages renders the violations one per line.
func (r *Result) Messages() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.String()
	}
	return out
}

// Linter validates a set of documents.
type Linter interface {
	Lint(root string, paths []string) (*Result, error)
}

// SchemaLinter is the builtin rule set.
type SchemaLinter struct {
	cfg *config.Config
}

func NewSchemaLinter(cfg *config.Config) *SchemaLinter {
	return &SchemaLinter{cfg: cfg}
}

// Scope returns the default lint scope: living plus graveyard docs.
func (l *SchemaLinter) Scope() []string {
	return append(l.cfg.LivingDocs(), l.cfg.GraveyardDocs()...)
}

// Lint validates each document; missing files are violations for living
// docs and skipped otherwise.
func (l *SchemaLinter) Lint(root string, paths []string) (*Result, error) {
	result := &Result{}
	living := map[string]bool{}
	for _, p := range l.cfg.LivingDocs() {
		living[p] = true
	}

	for _, path := range paths {
		data, err := os.ReadFile(filepath.Join(root, path))
		if err != nil {
			if os.IsNotExist(err) {
				if living[path] {
					result.Violations = append(result.Violations,
						Violation{File: path, Line: 0, Msg: "living document missing"})
				}
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		l.lintDoc(result, path, data, living[path])
	}
	return result, nil
}

func (l *SchemaLinter) lintDoc(result *Result, path string, data []byte, isLiving bool) {
	add := func(line int, format string, args ...any) {
		result.Violations = append(result.Violations,
			Violation{File: path, Line: line, Msg: fmt.Sprintf(format, args...)})
	}

	if isLiving && !strings.Contains(string(data), SchemaHeader) {
		add(1, "missing %q header", SchemaHeader)
	}

	wantCategory := l.categoryFor(path)
	seen := map[string]int{}
	for _, e := range marshal.ParseEntries(data) {
		if e.ID == "" {
			if isLiving {
				add(e.Line, "entry %q has no identifier", e.Title)
			}
			continue
		}
		if prev, dup := seen[e.ID]; dup {
			add(e.Line, "duplicate identifier %s (first at line %d)", e.ID, prev)
		} else {
			seen[e.ID] = e.Line
		}
		if !isLiving {
			continue
		}
		if wantCategory != "" && e.Category != wantCategory {
			add(e.Line, "identifier %s does not belong in this document", e.ID)
		}
		if e.Fields["Status"] == "" {
			add(e.Line, "entry %s missing Status: field", e.ID)
		}
		if path == l.cfg.Docs.Concepts && e.Fields["Code"] == "" {
			add(e.Line, "entry %s missing Code: field", e.ID)
		}
	}
}

func (l *SchemaLinter) categoryFor(path string) string {
	switch path {
	case l.cfg.Docs.Concepts:
		return "C"
	case l.cfg.Docs.Epistemic:
		return "E"
	case l.cfg.Docs.Workflows:
		return "W"
	}
	return ""
}
