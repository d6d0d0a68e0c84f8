package drift

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/vcs"
)

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScanOrphansFilesystem(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()

	writeDoc(t, root, "present.go", "package main\n")
	writeDoc(t, root, cfg.Docs.Concepts, `# Concepts
Schema: engram/v1

## C001 — Alive
Status: ACTIVE
Code: present.go

## C002 — Gone
Status: ACTIVE
Code: vanished.go, also_gone.go

## C003 — Retired anyway
Status: RETIRED
Code: vanished.go
`)

	report, err := NewScanner(root, cfg, nil).Scan("", time.Now())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(report.Orphans) != 1 || report.Orphans[0].ID != "C002" {
		t.Errorf("orphans = %+v, want only C002", report.Orphans)
	}
}

func TestScanClaimAges(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	writeDoc(t, root, cfg.Docs.Epistemic, `# Epistemic
Schema: engram/v1

## E001 — Old contested claim
Status: contested
History:
- 2026-01-01: disputed by review

## E002 — Fresh contested claim
Status: contested
History:
- 2026-05-30: disputed again

## E003 — Stale unverified claim
Status: unverified
History:
- 2026-01-15: proposed

## E004 — Undatable claim
Status: unverified
History:
- someone said so once
`)

	report, err := NewScanner(root, cfg, nil).Scan("", now)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(report.Contested) != 1 || report.Contested[0].ID != "E001" {
		t.Errorf("contested = %+v, want only E001", report.Contested)
	}
	if len(report.StaleUnverified) != 1 || report.StaleUnverified[0].ID != "E003" {
		t.Errorf("stale = %+v, want only E003", report.StaleUnverified)
	}
}

func TestScanWorkflowCount(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Thresholds.WorkflowRepetition = 1

	writeDoc(t, root, cfg.Docs.Workflows, `# Workflows
Schema: engram/v1

## W001 — Deploy
Status: CURRENT

## W002 — Rollback
Status: CURRENT

## W003 — Abandoned
Status: RETIRED
`)

	report, err := NewScanner(root, cfg, nil).Scan("", time.Now())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.WorkflowCount != 2 {
		t.Errorf("WorkflowCount = %d, want 2", report.WorkflowCount)
	}
	exceeded := report.Exceeded(cfg.Thresholds)
	if len(exceeded) != 1 || exceeded[0] != TypeWorkflowSynthesis {
		t.Errorf("exceeded = %v", exceeded)
	}
}

// gitProject builds a repo whose docs reference a file deleted after the
// fold-from date, plus an Evidence sha for timestamp resolution.
func gitProject(t *testing.T) (string, *config.Config, *vcs.Git, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	cfg := config.DefaultConfig()

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

	writeDoc(t, root, "legacy.go", "package old\n")
	run("", "add", "-A")
	run("2026-01-10", "commit", "-q", "-m", "add legacy")

	run("", "rm", "-q", "legacy.go")
	run("2026-03-01", "commit", "-q", "-m", "drop legacy")

	g := vcs.New(root)
	head, err := g.Head()
	if err != nil {
		t.Fatal(err)
	}
	return root, cfg, g, head
}

func TestScanTemporalOrphans(t *testing.T) {
	root, cfg, g, _ := gitProject(t)

	// legacy.go exists at the fold-from point but not on today's
	// filesystem; temporal mode must not flag it.
	writeDoc(t, root, cfg.Docs.Concepts, `# Concepts
Schema: engram/v1

## C001 — Legacy subsystem
Status: ACTIVE
Code: legacy.go
`)

	report, err := NewScanner(root, cfg, g).Scan("2026-01-15", time.Now())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.RefCommit == "" {
		t.Fatalf("temporal reference not resolved; warnings=%v", report.Warnings)
	}
	if len(report.Orphans) != 0 {
		t.Errorf("orphans = %+v, want none in temporal mode", report.Orphans)
	}

	// Without the marker the same concept is an orphan.
	report, err = NewScanner(root, cfg, g).Scan("", time.Now())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(report.Orphans) != 1 {
		t.Errorf("orphans = %+v, want C001 flagged against HEAD", report.Orphans)
	}
}

func TestScanUnresolvableFoldFromFallsBack(t *testing.T) {
	root, cfg, g, _ := gitProject(t)

	writeDoc(t, root, cfg.Docs.Concepts, `# Concepts
Schema: engram/v1

## C001 — Legacy subsystem
Status: ACTIVE
Code: legacy.go
`)

	// fold_from predates all history; the scanner warns and checks the
	// filesystem instead.
	report, err := NewScanner(root, cfg, g).Scan("2020-01-01", time.Now())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.RefCommit != "" {
		t.Errorf("RefCommit = %q, want unresolved", report.RefCommit)
	}
	if len(report.Warnings) == 0 {
		t.Error("expected a fallback warning")
	}
	if len(report.Orphans) != 1 {
		t.Errorf("orphans = %+v, want filesystem-mode orphan", report.Orphans)
	}
}

func TestEvidenceTimestampResolution(t *testing.T) {
	root, cfg, g, head := gitProject(t)
	cfg.Thresholds.ContestedReviewDays = 14

	writeDoc(t, root, cfg.Docs.Epistemic, fmt.Sprintf(`# Epistemic
Schema: engram/v1

## E001 — Claim with commit evidence
Status: contested
History:
- Evidence@%s legacy.go:1: observed

## E002 — Claim with dangling evidence
Status: contested
History:
- Evidence@aaaaaaaaaaaa nothing.md:1: gone
`, head[:10]))

	// head commit is dated 2026-03-01; a month later it is past the
	// 14-day threshold.
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	report, err := NewScanner(root, cfg, g).Scan("", now)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(report.Contested) != 1 || report.Contested[0].ID != "E001" {
		t.Fatalf("contested = %+v, want only E001", report.Contested)
	}
	wantDay := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !report.Contested[0].LastSeen.UTC().Equal(wantDay) {
		t.Errorf("LastSeen = %v, want %v", report.Contested[0].LastSeen.UTC(), wantDay)
	}
}
