// Package templates renders the chunk input headers and the agent prompt
// texts. Chunks are self-contained: the fold agent needs nothing beyond the
// input file, the prompt, and the living docs on disk.
package templates

import (
	"fmt"
	"strings"
	"text/template"
)

func render(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return sb.String(), nil
}

// HeaderData parameterizes the chunk input header.
type HeaderData struct {
	ChunkID   int64
	ChunkType string
	IDs       map[string][]string // category -> formatted identifiers
	RefCommit string
	RefDate   string
}

const headerText = `# Chunk {{.ChunkID}} ({{.ChunkType}})
{{- if .RefCommit}}

Temporal reference: repository state at {{.RefCommit}} ({{.RefDate}}).
Treat code paths as they existed then; files added later do not exist yet.
{{- end}}
{{- if .IDs}}

Pre-assigned identifiers (use only these for new entries; unused ids are
simply skipped):
{{- range $cat, $ids := .IDs}}
- {{$cat}}: {{join $ids ", "}}
{{- end}}
{{- end}}

---
`

// Header renders the chunk input header section.
func Header(data HeaderData) (string, error) {
	tmpl, err := template.New("header").
		Funcs(template.FuncMap{"join": strings.Join}).
		Parse(headerText)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// PromptData parameterizes the agent prompt file.
type PromptData struct {
	InputPath  string
	ChunkType  string
	LivingDocs []string
	Graveyard  []string
	Model      string
}

const foldPromptText = `You maintain this project's living knowledge documents:
{{- range .LivingDocs}}
- {{.}}
{{- end}}
Graveyard documents (append-only):
{{- range .Graveyard}}
- {{.}}
{{- end}}

Read the chunk input at {{.InputPath}} and fold its events into the living
docs in chronological order. Create new entries only with the pre-assigned
identifiers listed in the input header. Stub superseded entries into the
graveyard; never delete graveyard content. Edit only the documents listed
above, then exit.
`

const triagePromptText = `You maintain this project's living knowledge documents:
{{- range .LivingDocs}}
- {{.}}
{{- end}}

The chunk input at {{.InputPath}} is a {{.ChunkType}} triage request. Resolve
each listed item: update its entry status, move retired entries to the
graveyard{{- range .Graveyard}} ({{.}}){{- end}}, and record the decision in
each entry's History. Do not invent new identifiers. Edit only the documents
listed above, then exit.
`

// Prompt renders the prompt text for a chunk.
func Prompt(data PromptData) (string, error) {
	text := triagePromptText
	if data.ChunkType == "fold" {
		text = foldPromptText
	}
	return render("prompt", text, data)
}

// CorrectionData parameterizes a retry prompt after linter failure.
type CorrectionData struct {
	Prompt     string
	Violations []string
}

const correctionText = `{{.Prompt}}

The previous attempt failed schema validation. Fix these violations and try
again:
{{- range .Violations}}
- {{.}}
{{- end}}
`

// Correction composes the retry prompt with the violation list.
func Correction(data CorrectionData) (string, error) {
	return render("correction", correctionText, data)
}

// SeedData parameterizes the bootstrap seed prompt.
type SeedData struct {
	LivingDocs []string
	Graveyard  []string
}

const seedText = `Survey this repository and create its initial living knowledge
documents:
{{- range .LivingDocs}}
- {{.}}
{{- end}}
and empty graveyard documents:
{{- range .Graveyard}}
- {{.}}
{{- end}}

Every document starts with a "Schema: engram/v1" line. Concepts get ACTIVE
status and Code: references to real paths; claims get unverified status with
a dated History bullet; workflows get CURRENT status. Then exit.
`

// Seed renders the seed agent prompt.
func Seed(data SeedData) (string, error) {
	return render("seed", seedText, data)
}

// TriageItem is one line item in a triage chunk body.
type TriageItem struct {
	ID     string
	Title  string
	Detail string
}

// TriageData parameterizes a triage chunk body.
type TriageData struct {
	ChunkType string
	Items     []TriageItem
	Registry  string // workflow registry content, workflow_synthesis only
}

const triageBodyText = `## {{.ChunkType}} items
{{- range .Items}}

### {{.ID}} — {{.Title}}
{{.Detail}}
{{- end}}
{{- if .Registry}}

## Current workflow registry

{{.Registry}}
{{- end}}
`

// TriageBody renders the body of a triage chunk.
func TriageBody(data TriageData) (string, error) {
	return render("triage", triageBodyText, data)
}
