package chunk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/drift"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/state"
)

type fixture struct {
	root  string
	cfg   *config.Config
	st    *state.Store
	sched *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()

	st, err := state.Open(filepath.Join(config.StateDir(root), state.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &fixture{
		root:  root,
		cfg:   cfg,
		st:    st,
		sched: NewScheduler(root, cfg, st, nil),
	}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (f *fixture) queueDocs(t *testing.T, sizes ...int) {
	t.Helper()
	var entries []queue.Entry
	for i, size := range sizes {
		rel := fmt.Sprintf("docs/d%d.md", i)
		f.write(t, rel, strings.Repeat("x", size))
		entries = append(entries, queue.Entry{
			Path:  rel,
			Kind:  "document",
			Date:  fmt.Sprintf("2026-01-%02d", i+1),
			Label: "initial",
			Chars: size,
		})
	}
	require.NoError(t, queue.Save(config.StateDir(f.root), entries))
}

func TestNextRefusesWhileLockHeld(t *testing.T) {
	f := newFixture(t)
	f.queueDocs(t, 100)

	stateDir := config.StateDir(f.root)
	require.NoError(t, WriteLock(stateDir, &Lock{ChunkID: 9, ChunkType: TypeFold, CreatedAt: time.Now()}))

	_, err := f.sched.Next(context.Background(), "")
	require.ErrorIs(t, err, ErrAlreadyActive)

	// No second chunk file appears.
	matches, _ := filepath.Glob(filepath.Join(stateDir, ChunksDirName, "chunk_*"))
	require.Empty(t, matches)
}

func TestFoldChunkConsumesQueuePrefixWithinBudget(t *testing.T) {
	f := newFixture(t)
	f.cfg.Budget.ContextLimitChars = 100000
	f.cfg.Budget.MaxChunkChars = 3500
	f.queueDocs(t, 1500, 1500, 1500)

	c, err := f.sched.Next(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, TypeFold, c.Type)
	require.Len(t, c.Consumed, 2)
	require.Equal(t, "2026-01-02", c.MaxDate())

	// The remainder stays queued, preserving chronological order across
	// dispatch boundaries.
	remaining, err := queue.Load(config.StateDir(f.root))
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "docs/d2.md", remaining[0].Path)

	// Chunk files are self-contained: header with pre-assigned ids, then
	// the consumed documents.
	input, err := os.ReadFile(filepath.Join(f.root, c.InputPath))
	require.NoError(t, err)
	require.Contains(t, string(input), "Pre-assigned identifiers")
	require.Contains(t, string(input), "docs/d0.md")
	require.Contains(t, string(input), "docs/d1.md")
	require.NotContains(t, string(input), "docs/d2.md")

	prompt, err := os.ReadFile(filepath.Join(f.root, c.PromptPath))
	require.NoError(t, err)
	require.Contains(t, string(prompt), c.InputPath)

	// The lock now forbids a second chunk.
	lock, err := ReadLock(config.StateDir(f.root))
	require.NoError(t, err)
	require.NotNil(t, lock)
	require.Equal(t, c.ID, lock.ChunkID)

	_, err = f.sched.Next(context.Background(), "")
	require.ErrorIs(t, err, ErrAlreadyActive)
}

func TestNextNothingToDo(t *testing.T) {
	f := newFixture(t)
	_, err := f.sched.Next(context.Background(), "")
	require.ErrorIs(t, err, ErrNothingToDo)
}

func TestChunkIDsNeverReused(t *testing.T) {
	f := newFixture(t)
	f.queueDocs(t, 100, 100)

	c1, err := f.sched.Next(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, ClearLock(config.StateDir(f.root)))

	c2, err := f.sched.Next(context.Background(), "")
	require.NoError(t, err)
	require.Greater(t, c2.ID, c1.ID)
}

func workflowRegistry(n int) string {
	var sb strings.Builder
	sb.WriteString("# Workflows\nSchema: engram/v1\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "\n## W%03d — flow %d\nStatus: CURRENT\n", i, i)
	}
	return sb.String()
}

func TestWorkflowSynthesisCooldown(t *testing.T) {
	f := newFixture(t)
	f.cfg.Thresholds.WorkflowRepetition = 2
	f.cfg.Dispatch.CooldownChunks = 3
	ctx := context.Background()
	stateDir := config.StateDir(f.root)

	f.write(t, f.cfg.Docs.Workflows, workflowRegistry(3))
	f.queueDocs(t, 100, 100, 100)

	// Drift wins over the chronological fold.
	c1, err := f.sched.Next(ctx, "")
	require.NoError(t, err)
	require.Equal(t, string(drift.TypeWorkflowSynthesis), c1.Type)

	entries, err := ReadManifest(stateDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].WorkflowRegistryHash)

	// The agent aborted without editing the registry: hash unchanged,
	// cooldown active, so the scheduler falls through to the fold.
	require.NoError(t, ClearLock(stateDir))
	c2, err := f.sched.Next(ctx, "")
	require.NoError(t, err)
	require.Equal(t, TypeFold, c2.Type)

	// An edited registry re-arms the drift type immediately.
	require.NoError(t, ClearLock(stateDir))
	f.write(t, f.cfg.Docs.Workflows, workflowRegistry(4))
	c3, err := f.sched.Next(ctx, "")
	require.NoError(t, err)
	require.Equal(t, string(drift.TypeWorkflowSynthesis), c3.Type)
}

func TestWorkflowCooldownExpiresWithChunkDistance(t *testing.T) {
	f := newFixture(t)
	f.cfg.Thresholds.WorkflowRepetition = 2
	f.cfg.Dispatch.CooldownChunks = 1
	ctx := context.Background()
	stateDir := config.StateDir(f.root)

	f.write(t, f.cfg.Docs.Workflows, workflowRegistry(3))
	f.queueDocs(t, 100, 100, 100, 100)

	c1, err := f.sched.Next(ctx, "")
	require.NoError(t, err)
	require.Equal(t, string(drift.TypeWorkflowSynthesis), c1.Type)

	// Within the window: suppressed.
	require.NoError(t, ClearLock(stateDir))
	c2, err := f.sched.Next(ctx, "")
	require.NoError(t, err)
	require.Equal(t, TypeFold, c2.Type)

	// c2 advanced the chunk sequence past the window; the unchanged
	// registry is eligible again.
	require.NoError(t, ClearLock(stateDir))
	c3, err := f.sched.Next(ctx, "")
	require.NoError(t, err)
	require.Equal(t, string(drift.TypeWorkflowSynthesis), c3.Type)
}

func TestOversizedSingleEntryTruncatedToBudget(t *testing.T) {
	f := newFixture(t)
	f.cfg.Budget.ContextLimitChars = 100000
	f.cfg.Budget.MaxChunkChars = 2500
	f.queueDocs(t, 9000)

	c, err := f.sched.Next(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, c.Consumed, 1)

	input, err := os.ReadFile(filepath.Join(f.root, c.InputPath))
	require.NoError(t, err)
	require.Less(t, len(input), 4000)
}

func TestConceptTriageChunk(t *testing.T) {
	f := newFixture(t)
	f.cfg.Thresholds.OrphanTriage = 0
	ctx := context.Background()

	// Two ACTIVE concepts whose code is gone trips the orphan threshold.
	f.write(t, f.cfg.Docs.Concepts, `# Concepts
Schema: engram/v1

## C001 — Gone one
Status: ACTIVE
Code: nope.go

## C002 — Gone two
Status: ACTIVE
Code: also/nope.go
`)

	c, err := f.sched.Next(ctx, "")
	require.NoError(t, err)
	require.Equal(t, string(drift.TypeConceptTriage), c.Type)

	input, err := os.ReadFile(filepath.Join(f.root, c.InputPath))
	require.NoError(t, err)
	require.Contains(t, string(input), "C001")
	require.Contains(t, string(input), "C002")

	// Triage chunks reuse existing identifiers; none are pre-assigned.
	require.NotContains(t, string(input), "Pre-assigned identifiers")
}
