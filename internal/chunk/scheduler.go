// Package chunk assembles the next unit of work for the fold agent: either a
// chronological fold over the queue or a drift-priority triage, under the
// character budget, the cooldown filter, and the active-chunk lock.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rajeshgoli/engram/internal/adapters"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/drift"
	"github.com/rajeshgoli/engram/internal/ids"
	"github.com/rajeshgoli/engram/internal/log"
	"github.com/rajeshgoli/engram/internal/marshal"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/state"
	"github.com/rajeshgoli/engram/internal/templates"
	"github.com/rajeshgoli/engram/internal/vcs"
)

// ErrAlreadyActive refuses chunk generation while the active-chunk lock is
// held.
var ErrAlreadyActive = errors.New("an active chunk exists; finish it or run clear-active-chunk")

// ErrNothingToDo means no drift exceeded its threshold and the queue is
// empty.
var ErrNothingToDo = errors.New("nothing to dispatch")

// TypeFold is the chronological chunk type; the drift types come from the
// drift package.
const TypeFold = "fold"

// ChunksDirName holds the generated chunk input and prompt files.
const ChunksDirName = "chunks"

// CommitSubjectFormat is the commit subject the auto-clear heuristic looks
// for: a commit of this form means the chunk was folded and committed.
const CommitSubjectFormat = "Knowledge fold: chunk %d"

// recentCommitWindow bounds the auto-clear commit inspection.
const recentCommitWindow = 10

// minChunkBudget keeps assembly moving when the living docs crowd out most
// of the context window.
const minChunkBudget = 2000

// Chunk is one produced work unit.
type Chunk struct {
	ID         int64
	Type       string
	InputPath  string // project-root relative
	PromptPath string
	Chars      int
	IDs        ids.Assignment
	// Consumed is the queue prefix a fold chunk took; the max date drives
	// buffer consumption.
	Consumed []queue.Entry
}

// MaxDate returns the latest date among consumed entries, or "".
func (c *Chunk) MaxDate() string {
	max := ""
	for _, e := range c.Consumed {
		if e.Date > max {
			max = e.Date
		}
	}
	return max
}

// Scheduler produces chunks for one project root.
type Scheduler struct {
	root string
	cfg  *config.Config
	st   *state.Store
	git  *vcs.Git
}

func NewScheduler(root string, cfg *config.Config, st *state.Store, git *vcs.Git) *Scheduler {
	return &Scheduler{root: root, cfg: cfg, st: st, git: git}
}

// Next assembles the next chunk. It refuses with ErrAlreadyActive while the
// lock is held (after the best-effort auto-clear) and returns ErrNothingToDo
// when there is no work.
func (s *Scheduler) Next(ctx context.Context, foldFrom string) (*Chunk, error) {
	stateDir := config.StateDir(s.root)

	if err := s.autoClearLock(stateDir); err != nil {
		return nil, err
	}
	if lock, err := ReadLock(stateDir); err != nil {
		return nil, err
	} else if lock != nil {
		return nil, fmt.Errorf("%w (chunk %d)", ErrAlreadyActive, lock.ChunkID)
	}

	budget := s.budget()

	scanner := drift.NewScanner(s.root, s.cfg, s.git)
	report, err := scanner.Scan(foldFrom, time.Now())
	if err != nil {
		return nil, fmt.Errorf("drift scan: %w", err)
	}

	triageType, err := s.selectTriage(ctx, stateDir, report)
	if err != nil {
		return nil, err
	}
	if triageType != "" {
		return s.buildTriage(ctx, stateDir, triageType, report)
	}
	return s.buildFold(ctx, stateDir, budget, report)
}

// autoClearLock removes a stale lock if a recent commit subject records the
// locked chunk as folded. Best effort: a repo-less project keeps its lock.
func (s *Scheduler) autoClearLock(stateDir string) error {
	lock, err := ReadLock(stateDir)
	if err != nil || lock == nil {
		return err
	}
	if s.git == nil {
		return nil
	}
	commits, err := s.git.RecentCommits(recentCommitWindow)
	if err != nil {
		return nil
	}
	want := fmt.Sprintf(CommitSubjectFormat, lock.ChunkID)
	for _, c := range commits {
		if strings.Contains(c.Subject, want) {
			logger := log.WithComponent("chunk")
			logger.Info().Int64("chunk_id", lock.ChunkID).
				Str("commit", c.SHA).Msg("auto-clearing active chunk recorded as folded")
			return ClearLock(stateDir)
		}
	}
	return nil
}

// budget computes the chunk character budget: context limit minus the
// measured living docs size and instruction overhead, capped by the
// configured maximum.
func (s *Scheduler) budget() int {
	docsSize := 0
	for _, doc := range s.cfg.LivingDocs() {
		if info, err := os.Stat(filepath.Join(s.root, doc)); err == nil {
			docsSize += int(info.Size())
		}
	}
	b := s.cfg.Budget.ContextLimitChars - docsSize - s.cfg.Budget.InstructionsOverhead
	if b > s.cfg.Budget.MaxChunkChars {
		b = s.cfg.Budget.MaxChunkChars
	}
	if b < minChunkBudget {
		b = minChunkBudget
	}
	return b
}

// selectTriage picks the first threshold-exceeding drift type that survives
// the cooldown filter, or "".
func (s *Scheduler) selectTriage(ctx context.Context, stateDir string, report *drift.Report) (drift.Type, error) {
	for _, t := range report.Exceeded(s.cfg.Thresholds) {
		if t == drift.TypeWorkflowSynthesis {
			cooled, err := s.workflowCooldownActive(ctx, stateDir)
			if err != nil {
				return "", err
			}
			if cooled {
				logger := log.WithComponent("chunk")
				logger.Debug().Msg("workflow_synthesis suppressed by cooldown")
				continue
			}
		}
		return t, nil
	}
	return "", nil
}

// workflowCooldownActive reports whether a workflow_synthesis chunk should be
// suppressed: the registry hash is unchanged since the last such chunk and
// the chunk-id distance is within the cooldown window.
func (s *Scheduler) workflowCooldownActive(ctx context.Context, stateDir string) (bool, error) {
	entries, err := ReadManifest(stateDir)
	if err != nil {
		return false, err
	}
	last := LastOfType(entries, string(drift.TypeWorkflowSynthesis))
	if last == nil || last.WorkflowRegistryHash == "" {
		return false, nil
	}
	current, err := s.workflowRegistryHash()
	if err != nil {
		return false, err
	}
	if current != last.WorkflowRegistryHash {
		return false, nil
	}
	next, err := s.st.NextID(ctx, state.CategoryChunk)
	if err != nil {
		return false, err
	}
	return int64(next)-last.ChunkID <= int64(s.cfg.Dispatch.CooldownChunks), nil
}

func (s *Scheduler) workflowRegistryHash() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, s.cfg.Docs.Workflows))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// reserveChunkID takes the next chunk sequence number.
func (s *Scheduler) reserveChunkID(ctx context.Context) (int64, error) {
	lo, _, err := s.st.ReserveIDs(ctx, state.CategoryChunk, 1)
	return int64(lo), err
}

// buildFold consumes a queue prefix within budget into a fold chunk.
func (s *Scheduler) buildFold(ctx context.Context, stateDir string, budget int, report *drift.Report) (*Chunk, error) {
	entries, err := queue.Load(stateDir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNothingToDo
	}

	var consumed []queue.Entry
	var sections []string
	used := 0
	for _, e := range entries {
		content, err := s.loadEntryContent(e)
		if err != nil {
			logger := log.WithComponent("chunk")
			logger.Warn().Str("path", e.Path).Err(err).Msg("skipping unreadable queue entry")
			consumed = append(consumed, e)
			continue
		}
		if used > 0 && used+len(content) > budget {
			break
		}
		if len(content) > budget {
			// A single oversized item is truncated to budget rather
			// than wedging the queue.
			content = content[:budget]
		}
		sections = append(sections, content)
		used += len(content)
		consumed = append(consumed, e)
	}
	if len(sections) == 0 {
		return nil, ErrNothingToDo
	}

	assignment, err := ids.PreAssign(ctx, s.st, s.root, s.cfg.LivingDocs(), s.estimateNewEntries(consumed))
	if err != nil {
		return nil, err
	}

	chunkID, err := s.reserveChunkID(ctx)
	if err != nil {
		return nil, err
	}

	header, err := templates.Header(templates.HeaderData{
		ChunkID:   chunkID,
		ChunkType: TypeFold,
		IDs:       formatAssignment(assignment),
		RefCommit: report.RefCommit,
		RefDate:   report.RefDate,
	})
	if err != nil {
		return nil, err
	}

	body := header + "\n" + strings.Join(sections, "\n\n---\n\n") + "\n"
	c := &Chunk{ID: chunkID, Type: TypeFold, Chars: len(body), IDs: assignment, Consumed: consumed}
	if err := s.writeChunkFiles(stateDir, c, body); err != nil {
		return nil, err
	}

	// The consumed prefix leaves the queue only after the chunk files and
	// lock are durable.
	if err := queue.Save(stateDir, entries[len(consumed):]); err != nil {
		return nil, err
	}
	return c, nil
}

// estimateNewEntries is the pre-assignment heuristic: issue and document
// items suggest new concepts and claims, session items suggest new workflows
// and claims. Each category is capped; over-reserved ids are skipped by the
// allocator's monotonic discipline.
func (s *Scheduler) estimateNewEntries(consumed []queue.Entry) map[string]int {
	maxPer := s.cfg.Budget.MaxIDsPerCategory
	counts := map[string]int{}
	for _, e := range consumed {
		switch adapters.Kind(e.Kind) {
		case adapters.KindIssue, adapters.KindDocument:
			counts[state.CategoryConcept]++
			counts[state.CategoryClaim]++
		case adapters.KindSession:
			counts[state.CategoryWorkflow]++
			counts[state.CategoryClaim]++
		}
	}
	for cat, n := range counts {
		if n > maxPer {
			counts[cat] = maxPer
		}
	}
	return counts
}

// buildTriage renders a drift triage chunk. Triage chunks operate on
// existing entries and reuse their identifiers; nothing is pre-assigned.
func (s *Scheduler) buildTriage(ctx context.Context, stateDir string, t drift.Type, report *drift.Report) (*Chunk, error) {
	chunkID, err := s.reserveChunkID(ctx)
	if err != nil {
		return nil, err
	}

	data := templates.TriageData{ChunkType: string(t)}
	switch t {
	case drift.TypeConceptTriage:
		for _, o := range report.Orphans {
			data.Items = append(data.Items, templates.TriageItem{
				ID: o.ID, Title: o.Title,
				Detail: "All referenced code paths are missing: " + strings.Join(o.Paths, ", "),
			})
		}
	case drift.TypeContestedReview:
		for _, c := range report.Contested {
			data.Items = append(data.Items, templates.TriageItem{
				ID: c.ID, Title: c.Title,
				Detail: fmt.Sprintf("Contested since %s.", c.LastSeen.Format("2006-01-02")),
			})
		}
	case drift.TypeStaleUnverified:
		for _, c := range report.StaleUnverified {
			data.Items = append(data.Items, templates.TriageItem{
				ID: c.ID, Title: c.Title,
				Detail: fmt.Sprintf("Unverified since %s.", c.LastSeen.Format("2006-01-02")),
			})
		}
	case drift.TypeWorkflowSynthesis:
		registry, err := os.ReadFile(filepath.Join(s.root, s.cfg.Docs.Workflows))
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		data.Registry = string(registry)
	}

	triageBody, err := templates.TriageBody(data)
	if err != nil {
		return nil, err
	}
	header, err := templates.Header(templates.HeaderData{
		ChunkID:   chunkID,
		ChunkType: string(t),
		RefCommit: report.RefCommit,
		RefDate:   report.RefDate,
	})
	if err != nil {
		return nil, err
	}

	body := header + "\n" + triageBody
	c := &Chunk{ID: chunkID, Type: string(t), Chars: len(body)}
	if err := s.writeChunkFiles(stateDir, c, body); err != nil {
		return nil, err
	}

	if t == drift.TypeWorkflowSynthesis {
		hash, err := s.workflowRegistryHash()
		if err != nil {
			return nil, err
		}
		if err := AppendManifest(stateDir, ManifestEntry{
			ChunkID:              chunkID,
			ChunkType:            string(t),
			WorkflowRegistryHash: hash,
			CreatedAt:            time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// writeChunkFiles writes the input and prompt files, then the lock. Lock
// creation must come last: its presence promises the chunk files exist.
func (s *Scheduler) writeChunkFiles(stateDir string, c *Chunk, body string) error {
	chunksDir := filepath.Join(stateDir, ChunksDirName)
	if err := os.MkdirAll(chunksDir, 0755); err != nil {
		return err
	}

	inputRel := filepath.Join(config.StateDirName, ChunksDirName, fmt.Sprintf("chunk_%03d_input.md", c.ID))
	promptRel := filepath.Join(config.StateDirName, ChunksDirName, fmt.Sprintf("chunk_%03d_prompt.txt", c.ID))

	prompt, err := templates.Prompt(templates.PromptData{
		InputPath:  inputRel,
		ChunkType:  c.Type,
		LivingDocs: s.cfg.LivingDocs(),
		Graveyard:  s.cfg.GraveyardDocs(),
		Model:      s.cfg.FoldAgent.Model,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(s.root, inputRel), []byte(body), 0644); err != nil {
		return fmt.Errorf("write chunk input: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.root, promptRel), []byte(prompt), 0644); err != nil {
		return fmt.Errorf("write chunk prompt: %w", err)
	}

	c.InputPath = inputRel
	c.PromptPath = promptRel

	return WriteLock(stateDir, &Lock{
		ChunkID:    c.ID,
		ChunkType:  c.Type,
		InputPath:  inputRel,
		PromptPath: promptRel,
		CreatedAt:  time.Now().UTC(),
	})
}

// loadEntryContent materializes one queue entry as a chunk section.
func (s *Scheduler) loadEntryContent(e queue.Entry) (string, error) {
	switch adapters.Kind(e.Kind) {
	case adapters.KindIssue:
		data, err := os.ReadFile(filepath.Join(s.root, e.Path))
		if err != nil {
			return "", err
		}
		issue, err := marshal.ParseIssue(data)
		if err != nil {
			return "", err
		}
		rendered, err := marshal.RenderIssue(issue)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("## Issue %s (%s)\n\n%s", e.Path, e.Date, rendered), nil
	case adapters.KindDocument:
		data, err := os.ReadFile(filepath.Join(s.root, e.Path))
		if err != nil {
			return "", err
		}
		label := strings.ToUpper(e.Label)
		if label == "" {
			label = "INITIAL"
		}
		return fmt.Sprintf("## Document %s (%s, %s)\n\n%s", e.Path, label, e.Date, data), nil
	case adapters.KindSession:
		data, err := os.ReadFile(filepath.Join(s.root, e.Path))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("## Session %s (%s)\n\n%s", filepath.Base(e.Path), e.Date, data), nil
	}
	return "", fmt.Errorf("unknown queue entry kind %q", e.Kind)
}

func formatAssignment(a ids.Assignment) map[string][]string {
	if len(a) == 0 {
		return nil
	}
	out := map[string][]string{}
	for cat, nums := range a {
		for _, n := range nums {
			out[cat] = append(out[cat], ids.Format(cat, n))
		}
	}
	return out
}
