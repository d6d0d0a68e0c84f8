package adapters

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rajeshgoli/engram/internal/vcs"
)

func TestDocumentsFrontmatterDates(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("docs/b.md", "---\ndate: 2026-02-01\n---\nb\n")
	write("docs/a.md", "---\ndate: 2026-01-01\n---\na\n")
	write("docs/2025-12-25-notes.md", "no frontmatter\n")
	write("docs/readme.txt", "not markdown\n")

	items, err := Documents(root, []string{"docs"}, nil)
	if err != nil {
		t.Fatalf("Documents failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3: %+v", len(items), items)
	}
	if items[0].Date != "2025-12-25" || items[0].Label != LabelInitial {
		t.Errorf("filename-dated item = %+v", items[0])
	}
	if items[1].Path != "docs/a.md" || items[2].Path != "docs/b.md" {
		t.Errorf("order wrong: %+v", items)
	}
}

func TestDocumentsRevisitFromGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	run := func(date string, args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
		if date != "" {
			cmd.Env = append(os.Environ(),
				"GIT_AUTHOR_DATE="+date+"T12:00:00Z",
				"GIT_COMMITTER_DATE="+date+"T12:00:00Z")
		}
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("", "init", "-q")
	run("", "config", "user.email", "t@example.com")
	run("", "config", "user.name", "T")

	path := filepath.Join(root, "docs", "design.md")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("v1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("", "add", "-A")
	run("2026-01-10", "commit", "-q", "-m", "add design")

	if err := os.WriteFile(path, []byte("v2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("", "add", "-A")
	run("2026-03-15", "commit", "-q", "-m", "revise design")

	items, err := Documents(root, []string{"docs"}, vcs.New(root))
	if err != nil {
		t.Fatalf("Documents failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want INITIAL+REVISIT: %+v", len(items), items)
	}
	if items[0].Label != LabelInitial || items[0].Date != "2026-01-10" {
		t.Errorf("initial = %+v", items[0])
	}
	if items[1].Label != LabelRevisit || items[1].Date != "2026-03-15" {
		t.Errorf("revisit = %+v", items[1])
	}
}
