// Package dispatch drives the fold-agent lifecycle for one chunk:
// building → dispatched → validated → committed, with bounded lint-driven
// retries and crash recovery for every non-terminal state.
package dispatch

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rajeshgoli/engram/internal/chunk"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/lint"
	"github.com/rajeshgoli/engram/internal/log"
	"github.com/rajeshgoli/engram/internal/state"
	"github.com/rajeshgoli/engram/internal/templates"
)

// ErrDispatchFailed marks a dispatch that exhausted its retries; the
// active-chunk lock is left in place for human review.
var ErrDispatchFailed = errors.New("dispatch failed after retries")

// errNoEdits is an agent run that exited zero without touching the living
// docs; treated like a validation failure.
var errNoEdits = errors.New("fold agent produced no edits")

// sizeGuardFactor bounds the produced growth relative to the chunk size.
const sizeGuardFactor = 2

// AgentRunner invokes the opaque fold agent. The agent communicates only by
// editing living docs and exiting.
type AgentRunner interface {
	Run(ctx context.Context, promptPath, inputPath string) error
}

// ExecRunner runs the configured agent argv with the prompt and input paths
// appended, blocking until exit.
type ExecRunner struct {
	Root  string
	Agent config.AgentConfig
}

func (r *ExecRunner) Run(ctx context.Context, promptPath, inputPath string) error {
	if len(r.Agent.Command) == 0 {
		return fmt.Errorf("fold agent command not configured")
	}
	args := append([]string{}, r.Agent.Command[1:]...)
	if r.Agent.Model != "" {
		args = append(args, "--model", r.Agent.Model)
	}
	args = append(args, promptPath)
	if inputPath != "" {
		args = append(args, inputPath)
	}
	cmd := exec.CommandContext(ctx, r.Agent.Command[0], args...)
	cmd.Dir = r.Root
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("fold agent: %w", err)
	}
	return nil
}

// Dispatcher owns the dispatch state machine for one project.
type Dispatcher struct {
	root   string
	cfg    *config.Config
	st     *state.Store
	sched  *chunk.Scheduler
	linter lint.Linter
	agent  AgentRunner
}

func New(root string, cfg *config.Config, st *state.Store, sched *chunk.Scheduler, linter lint.Linter, agent AgentRunner) *Dispatcher {
	if agent == nil {
		agent = &ExecRunner{Root: root, Agent: cfg.FoldAgent}
	}
	return &Dispatcher{root: root, cfg: cfg, st: st, sched: sched, linter: linter, agent: agent}
}

// Outcome reports a finished dispatch.
type Outcome struct {
	DispatchID int64
	Chunk      *chunk.Chunk
	State      string
}

// Dispatch produces the next chunk and runs it to a terminal state. The
// scheduler's refusals (lock held, nothing to do) pass through unwrapped so
// callers can branch on them.
func (d *Dispatcher) Dispatch(ctx context.Context, foldFrom string) (*Outcome, error) {
	recID, err := d.st.BeginDispatch(ctx)
	if err != nil {
		return nil, err
	}

	c, err := d.sched.Next(ctx, foldFrom)
	if err != nil {
		// Building records have no side effects; discard rather than
		// leave a phantom non-terminal row.
		if derr := d.st.DeleteDispatch(ctx, recID); derr != nil {
			logger := log.WithComponent("dispatch")
			logger.Warn().Err(derr).Msg("discard building record")
		}
		return nil, err
	}

	err = d.st.WithTx(ctx, func(tx *sql.Tx) error {
		if err := state.SetDispatchChunkTx(tx, recID, c.ID, c.Type, c.InputPath, c.PromptPath); err != nil {
			return err
		}
		if maxDate := c.MaxDate(); maxDate != "" {
			if _, err := state.ConsumeBufferThroughTx(tx, maxDate); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := d.st.SetDispatchState(ctx, recID, state.DispatchDispatched); err != nil {
		return nil, err
	}
	if err := d.st.SetLastDispatchAt(ctx, time.Now()); err != nil {
		return nil, err
	}

	return d.runToTerminal(ctx, recID, c.InputPath, c.PromptPath, c.Chars, c)
}

// runToTerminal drives a dispatched record to committed or failed.
func (d *Dispatcher) runToTerminal(ctx context.Context, recID int64, inputPath, promptPath string, chunkChars int, c *chunk.Chunk) (*Outcome, error) {
	logger := log.WithComponent("dispatch")
	originalPrompt, err := os.ReadFile(filepath.Join(d.root, promptPath))
	if err != nil {
		return nil, fmt.Errorf("read prompt: %w", err)
	}

	sizeRetried := false
	for {
		before := d.docsFingerprint()
		beforeSize := d.docsSize()

		runErr := d.agent.Run(ctx, promptPath, inputPath)
		var violations []string
		switch {
		case runErr != nil:
			// Exited non-zero: same policy as a validation failure.
			violations = []string{runErr.Error()}
		case d.docsFingerprint() == before:
			violations = []string{errNoEdits.Error()}
		default:
			growth := d.docsSize() - beforeSize
			if chunkChars > 0 && growth > sizeGuardFactor*chunkChars {
				if sizeRetried {
					return d.fail(ctx, recID, fmt.Sprintf("produced growth %d exceeds %d× chunk size twice", growth, sizeGuardFactor))
				}
				sizeRetried = true
				violations = []string{fmt.Sprintf("produced diff of %d chars exceeds %d× the chunk size; fold more conservatively", growth, sizeGuardFactor)}
			}
		}

		if violations == nil {
			result, err := d.linter.Lint(d.root, d.lintScope(inputPath))
			if err != nil {
				return nil, err
			}
			if result.OK() {
				return d.commit(ctx, recID, c)
			}
			violations = result.Messages()
		}

		retries, err := d.st.IncDispatchRetries(ctx, recID)
		if err != nil {
			return nil, err
		}
		if retries > state.MaxRetries {
			return d.fail(ctx, recID, fmt.Sprintf("%d violations after %d retries", len(violations), state.MaxRetries))
		}

		logger.Warn().Int("retries", retries).Strs("violations", violations).Msg("retrying dispatch with correction prompt")
		if err := d.st.SetDispatchState(ctx, recID, state.DispatchRetry); err != nil {
			return nil, err
		}
		correction, err := templates.Correction(templates.CorrectionData{
			Prompt:     string(originalPrompt),
			Violations: violations,
		})
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(d.root, promptPath), []byte(correction), 0644); err != nil {
			return nil, err
		}
		if err := d.st.SetDispatchState(ctx, recID, state.DispatchDispatched); err != nil {
			return nil, err
		}
	}
}

// commit walks validated → committed. The staleness flag is recorded in the
// same transaction as the committed transition, after the validated
// transition is already durable: a crash in between leaves a recoverable
// validated record.
func (d *Dispatcher) commit(ctx context.Context, recID int64, c *chunk.Chunk) (*Outcome, error) {
	if err := d.st.SetDispatchState(ctx, recID, state.DispatchValidated); err != nil {
		return nil, err
	}
	err := d.st.WithTx(ctx, func(tx *sql.Tx) error {
		if err := state.SetL0StaleTx(tx, true); err != nil {
			return err
		}
		return state.SetDispatchStateTx(tx, recID, state.DispatchCommitted)
	})
	if err != nil {
		return nil, err
	}
	if err := chunk.ClearLock(config.StateDir(d.root)); err != nil {
		return nil, err
	}
	logger := log.WithComponent("dispatch")
	logger.Info().Int64("dispatch", recID).Msg("dispatch committed")
	return &Outcome{DispatchID: recID, Chunk: c, State: state.DispatchCommitted}, nil
}

// fail marks the record failed and leaves the lock for human review.
func (d *Dispatcher) fail(ctx context.Context, recID int64, reason string) (*Outcome, error) {
	logger := log.WithComponent("dispatch")
	logger.Error().Int64("dispatch", recID).Str("reason", reason).Msg("dispatch failed")
	if err := d.st.SetDispatchState(ctx, recID, state.DispatchFailed); err != nil {
		return nil, err
	}
	return &Outcome{DispatchID: recID, State: state.DispatchFailed}, fmt.Errorf("%w: %s", ErrDispatchFailed, reason)
}

func (d *Dispatcher) lintScope(inputPath string) []string {
	scope := append([]string{}, d.cfg.LivingDocs()...)
	scope = append(scope, d.cfg.GraveyardDocs()...)
	if inputPath != "" {
		scope = append(scope, inputPath)
	}
	return scope
}

// docsFingerprint hashes the living docs to detect whether the agent edited
// anything at all.
func (d *Dispatcher) docsFingerprint() string {
	h := sha256.New()
	for _, doc := range d.cfg.LivingDocs() {
		data, err := os.ReadFile(filepath.Join(d.root, doc))
		if err != nil {
			continue
		}
		h.Write([]byte(doc))
		h.Write(data)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (d *Dispatcher) docsSize() int {
	total := 0
	for _, doc := range append(d.cfg.LivingDocs(), d.cfg.GraveyardDocs()...) {
		if info, err := os.Stat(filepath.Join(d.root, doc)); err == nil {
			total += int(info.Size())
		}
	}
	return total
}

// Recover walks every non-terminal dispatch record forward on startup.
func (d *Dispatcher) Recover(ctx context.Context) error {
	logger := log.WithComponent("dispatch")
	records, err := d.st.NonTerminalDispatches(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		logger.Info().Int64("dispatch", rec.ID).Str("state", rec.State).Msg("recovering dispatch")
		switch rec.State {
		case state.DispatchBuilding:
			// No side effects yet; discard and rebuild on the next
			// iteration.
			if err := d.st.DeleteDispatch(ctx, rec.ID); err != nil {
				return err
			}
		case state.DispatchDispatched, state.DispatchRetry:
			if err := d.recoverDispatched(ctx, rec); err != nil {
				return err
			}
		case state.DispatchValidated:
			// Staleness is set again (idempotent), then committed.
			if err := d.st.SetL0Stale(ctx, true); err != nil {
				return err
			}
			if err := d.st.SetDispatchState(ctx, rec.ID, state.DispatchCommitted); err != nil {
				return err
			}
			if err := chunk.ClearLock(config.StateDir(d.root)); err != nil {
				return err
			}
		}
	}
	return nil
}

// recoverDispatched re-lints an in-flight dispatch: the agent may have
// finished its edits before the crash.
func (d *Dispatcher) recoverDispatched(ctx context.Context, rec state.Dispatch) error {
	result, err := d.linter.Lint(d.root, d.lintScope(rec.InputPath))
	if err != nil {
		return err
	}
	if result.OK() {
		c := &chunk.Chunk{ID: rec.ChunkID, Type: rec.ChunkType, InputPath: rec.InputPath, PromptPath: rec.PromptPath}
		_, err := d.commit(ctx, rec.ID, c)
		return err
	}
	if rec.Retries >= state.MaxRetries {
		_, err := d.fail(ctx, rec.ID, "validation still failing at recovery with no retries left")
		if errors.Is(err, ErrDispatchFailed) {
			return nil
		}
		return err
	}
	_, err = d.runToTerminal(ctx, rec.ID, rec.InputPath, rec.PromptPath, 0,
		&chunk.Chunk{ID: rec.ChunkID, Type: rec.ChunkType, InputPath: rec.InputPath, PromptPath: rec.PromptPath})
	if err != nil && !errors.Is(err, ErrDispatchFailed) {
		return err
	}
	return nil
}
