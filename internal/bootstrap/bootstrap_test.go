package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rajeshgoli/engram/internal/chunk"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/dispatch"
	"github.com/rajeshgoli/engram/internal/lint"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/state"
)

type fixture struct {
	root string
	cfg  *config.Config
	st   *state.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Sources.Docs = []string{"docs"}
	cfg.Sources.Issues = nil

	st, err := state.Open(filepath.Join(config.StateDir(root), state.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{root: root, cfg: cfg, st: st}
	f.write(t, cfg.Docs.Timeline, "# Timeline\nSchema: engram/v1\n")
	f.write(t, cfg.Docs.Concepts, "# Concepts\nSchema: engram/v1\n")
	f.write(t, cfg.Docs.Epistemic, "# Epistemic\nSchema: engram/v1\n")
	f.write(t, cfg.Docs.Workflows, "# Workflows\nSchema: engram/v1\n")
	f.write(t, cfg.Graveyard.Concepts, "# Graveyard\nSchema: engram/v1\n")
	f.write(t, cfg.Graveyard.Epistemic, "# Graveyard\nSchema: engram/v1\n")
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// countingAgent appends a unique valid concept entry per call, so every
// dispatch lints clean.
type countingAgent struct {
	f     *fixture
	t     *testing.T
	calls int
	fail  bool
}

func (a *countingAgent) Run(ctx context.Context, promptPath, inputPath string) error {
	a.calls++
	if a.fail {
		return nil // no edits: dispatch will fail validation
	}
	path := filepath.Join(a.f.root, a.f.cfg.Docs.Concepts)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = fmt.Fprintf(file, "\n## C%03d — folded %d\nStatus: ACTIVE\nCode: docs/one.md\n", 800+a.calls, a.calls)
	return err
}

func (f *fixture) controller(t *testing.T, agent dispatch.AgentRunner) *Controller {
	sched := chunk.NewScheduler(f.root, f.cfg, f.st, nil)
	linter := lint.NewSchemaLinter(f.cfg)
	d := dispatch.New(f.root, f.cfg, f.st, sched, linter, agent)
	b := queue.NewBuilder(f.root, f.cfg, nil)
	return New(f.root, f.cfg, f.st, nil, d, b, agent)
}

func setFoldFrom(t *testing.T, st *state.Store, date string) {
	t.Helper()
	require.NoError(t, st.SetFoldFrom(context.Background(), &date))
}

func TestForwardFoldRequiresMarker(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, &countingAgent{f: f, t: t})
	require.ErrorIs(t, c.ForwardFold(context.Background()), ErrNoFoldFrom)
}

func TestForwardFoldEmptyQueueClearsMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// All source material predates the marker.
	f.write(t, "docs/one.md", "---\ndate: 2025-01-01\n---\nold\n")
	setFoldFrom(t, f.st, "2026-06-01")

	agent := &countingAgent{f: f, t: t}
	require.NoError(t, f.controller(t, agent).ForwardFold(ctx))
	require.Zero(t, agent.calls)

	ss, err := f.st.ServerState(ctx)
	require.NoError(t, err)
	require.Empty(t, ss.FoldFrom)
}

func TestForwardFoldProcessesChunksThenClearsMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "docs/one.md", "---\ndate: 2026-01-10\n---\nfirst\n")
	f.write(t, "docs/two.md", "---\ndate: 2026-02-10\n---\nsecond\n")
	setFoldFrom(t, f.st, "2026-01-01")

	agent := &countingAgent{f: f, t: t}
	require.NoError(t, f.controller(t, agent).ForwardFold(ctx))
	require.Greater(t, agent.calls, 0)

	ss, err := f.st.ServerState(ctx)
	require.NoError(t, err)
	require.Empty(t, ss.FoldFrom, "fold_from must clear after the final chunk")
	require.True(t, ss.L0Stale, "the fold leaves the briefing stale for the next drain")

	entries, err := queue.Load(config.StateDir(f.root))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestForwardFoldPreservesMarkerOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "docs/one.md", "---\ndate: 2026-01-10\n---\nfirst\n")
	setFoldFrom(t, f.st, "2026-01-01")

	agent := &countingAgent{f: f, t: t, fail: true}
	err := f.controller(t, agent).ForwardFold(ctx)
	require.Error(t, err)

	ss, serr := f.st.ServerState(ctx)
	require.NoError(t, serr)
	require.Equal(t, "2026-01-01", ss.FoldFrom, "failure must preserve fold_from")
}

func TestSeedMarksBriefingStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent := &countingAgent{f: f, t: t}
	require.NoError(t, f.controller(t, agent).Seed(ctx, ""))
	require.Equal(t, 1, agent.calls)

	ss, err := f.st.ServerState(ctx)
	require.NoError(t, err)
	require.True(t, ss.L0Stale)
}

func TestSeedRejectsBadDate(t *testing.T) {
	f := newFixture(t)
	err := f.controller(t, &countingAgent{f: f, t: t}).Seed(context.Background(), "June 2026")
	require.ErrorIs(t, err, queue.ErrInvalidStartDate)
}
