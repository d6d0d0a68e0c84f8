package briefing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rajeshgoli/engram/internal/config"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRegenerateCreatesBriefing(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()

	write(t, root, cfg.Docs.Concepts, `# Concepts
Schema: engram/v1

## C001 — Ring buffer
Status: ACTIVE
Code: ring.go
`)

	if err := Regenerate(root, cfg); err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, cfg.Briefing.File))
	if err != nil {
		t.Fatalf("briefing not written: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, cfg.Briefing.Section) {
		t.Errorf("briefing missing section heading:\n%s", text)
	}
	if !strings.Contains(text, "C001 Ring buffer [ACTIVE]") {
		t.Errorf("briefing missing concept line:\n%s", text)
	}
}

func TestRegenerateReplacesOnlyItsSection(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Briefing.File = "README.md"

	write(t, root, "README.md", `# Project

intro text

`+cfg.Briefing.Section+`

stale briefing content

## Usage

run it
`)
	write(t, root, cfg.Docs.Workflows, `# Workflows
Schema: engram/v1

## W001 — Deploy
Status: CURRENT
`)

	if err := Regenerate(root, cfg); err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "README.md"))
	text := string(data)

	if strings.Contains(text, "stale briefing content") {
		t.Errorf("old section content survived:\n%s", text)
	}
	for _, want := range []string{"intro text", "## Usage", "run it", "W001 Deploy"} {
		if !strings.Contains(text, want) {
			t.Errorf("briefing lost %q:\n%s", want, text)
		}
	}

	// Idempotent: a second regeneration leaves one section.
	if err := Regenerate(root, cfg); err != nil {
		t.Fatalf("second Regenerate failed: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(root, "README.md"))
	if strings.Count(string(data), cfg.Briefing.Section) != 1 {
		t.Errorf("briefing section duplicated:\n%s", data)
	}
}
