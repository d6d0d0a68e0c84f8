// Package bootstrap seeds a project's living docs and runs the forward fold
// that catches the docs up from a historical starting point.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rajeshgoli/engram/internal/chunk"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/dispatch"
	"github.com/rajeshgoli/engram/internal/log"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/state"
	"github.com/rajeshgoli/engram/internal/templates"
	"github.com/rajeshgoli/engram/internal/vcs"
)

// ErrNoFoldFrom means a forward fold was requested without a marker set.
var ErrNoFoldFrom = errors.New("fold_from is not set")

// Controller orchestrates seeding and forward folding.
type Controller struct {
	root       string
	cfg        *config.Config
	st         *state.Store
	git        *vcs.Git
	dispatcher *dispatch.Dispatcher
	builder    *queue.Builder
	seedAgent  dispatch.AgentRunner
}

func New(root string, cfg *config.Config, st *state.Store, git *vcs.Git, d *dispatch.Dispatcher, b *queue.Builder, seedAgent dispatch.AgentRunner) *Controller {
	if seedAgent == nil {
		agentCfg := cfg.SeedAgent
		if len(agentCfg.Command) == 0 {
			agentCfg = cfg.FoldAgent
		}
		seedAgent = &dispatch.ExecRunner{Root: root, Agent: agentCfg}
	}
	return &Controller{root: root, cfg: cfg, st: st, git: git, dispatcher: d, builder: b, seedAgent: seedAgent}
}

// Seed runs the seed agent over the repository to create the initial living
// and graveyard docs, then marks the briefing stale. With a fromDate it
// seeds from the repository state at that date in an ephemeral worktree,
// sets fold_from, and runs the forward fold.
func (c *Controller) Seed(ctx context.Context, fromDate string) error {
	if fromDate != "" {
		if err := queue.ValidateStartDate(fromDate); err != nil {
			return err
		}
	}

	seedRoot := c.root
	var cleanup func()
	if fromDate != "" {
		if c.git == nil {
			return fmt.Errorf("seed --from-date requires a git repository")
		}
		commit, err := c.git.ResolveBefore(fromDate)
		if err != nil {
			return fmt.Errorf("resolve seed commit for %s: %w", fromDate, err)
		}
		worktree := filepath.Join(os.TempDir(), "engram-seed-"+uuid.NewString())
		if err := c.git.AddWorktree(worktree, commit); err != nil {
			return fmt.Errorf("create seed worktree: %w", err)
		}
		cleanup = func() {
			if err := c.git.RemoveWorktree(worktree); err != nil {
				logger := log.WithComponent("bootstrap")
				logger.Warn().Err(err).Msg("remove seed worktree")
			}
		}
		seedRoot = worktree
		logger := log.WithComponent("bootstrap")
		logger.Info().Str("commit", commit).Str("date", fromDate).
			Msg("seeding from historical worktree")
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := c.runSeedAgent(ctx, seedRoot); err != nil {
		return err
	}
	if seedRoot != c.root {
		if err := c.copyDocsBack(seedRoot); err != nil {
			return err
		}
	}

	// Explicit, not implied by a later fold: the next drain regenerates
	// the briefing even if no fold ever runs.
	if err := c.st.SetL0Stale(ctx, true); err != nil {
		return err
	}

	if fromDate == "" {
		return nil
	}
	ff := fromDate
	if err := c.st.SetFoldFrom(ctx, &ff); err != nil {
		return err
	}
	return c.ForwardFold(ctx)
}

func (c *Controller) runSeedAgent(ctx context.Context, seedRoot string) error {
	prompt, err := templates.Seed(templates.SeedData{
		LivingDocs: c.cfg.LivingDocs(),
		Graveyard:  c.cfg.GraveyardDocs(),
	})
	if err != nil {
		return err
	}
	stateDir := config.StateDir(c.root)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}
	promptPath := filepath.Join(stateDir, "seed_prompt.txt")
	if err := os.WriteFile(promptPath, []byte(prompt), 0644); err != nil {
		return err
	}

	runner := c.seedAgent
	if seedRoot != c.root {
		if er, ok := runner.(*dispatch.ExecRunner); ok {
			runner = &dispatch.ExecRunner{Root: seedRoot, Agent: er.Agent}
		}
	}
	if err := runner.Run(ctx, promptPath, ""); err != nil {
		return fmt.Errorf("seed agent: %w", err)
	}
	return nil
}

// copyDocsBack copies seeded docs from the worktree into the project root.
func (c *Controller) copyDocsBack(seedRoot string) error {
	docs := append(c.cfg.LivingDocs(), c.cfg.GraveyardDocs()...)
	for _, doc := range docs {
		src := filepath.Join(seedRoot, doc)
		dst := filepath.Join(c.root, doc)
		in, err := os.Open(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			in.Close()
			return err
		}
		out, err := os.Create(dst)
		if err != nil {
			in.Close()
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("copy %s: %w", doc, err)
		}
	}
	return nil
}

// ForwardFold rebuilds the queue from the persisted fold-from marker and
// dispatches chunks until the queue drains. The marker is cleared on the
// empty-queue early return and on full success; any failing chunk preserves
// it so the fold can resume.
func (c *Controller) ForwardFold(ctx context.Context) error {
	ss, err := c.st.ServerState(ctx)
	if err != nil {
		return err
	}
	if ss.FoldFrom == "" {
		return ErrNoFoldFrom
	}
	foldFrom := ss.FoldFrom
	logger := log.WithComponent("bootstrap")

	entries, err := c.builder.Build(foldFrom)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		logger.Info().Str("fold_from", foldFrom).Msg("queue empty; clearing fold_from")
		return c.st.SetFoldFrom(ctx, nil)
	}

	for {
		_, err := c.dispatcher.Dispatch(ctx, foldFrom)
		if errors.Is(err, chunk.ErrNothingToDo) {
			break
		}
		if err != nil {
			// fold_from stays set so the next run resumes in
			// temporal mode.
			return fmt.Errorf("forward fold: %w", err)
		}
	}

	if err := c.st.SetFoldFrom(ctx, nil); err != nil {
		return err
	}
	logger.Info().Str("fold_from", foldFrom).Msg("forward fold complete")
	return nil
}
