// Package server implements the steady-state loop: poll sources into the
// buffer, dispatch when the buffer or drift warrants it, regenerate the L0
// briefing on queue drain.
//
// The loop is single-threaded and cooperative. Events accumulate during a
// dispatch but never interrupt it; the only suspension points are subprocess
// waits and the polling sleep.
package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rajeshgoli/engram/internal/briefing"
	"github.com/rajeshgoli/engram/internal/chunk"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/dispatch"
	"github.com/rajeshgoli/engram/internal/drift"
	"github.com/rajeshgoli/engram/internal/log"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/state"
	"github.com/rajeshgoli/engram/internal/vcs"
	"github.com/rajeshgoli/engram/internal/watch"
)

// Loop drives the ingestion-to-dispatch pipeline for one project.
type Loop struct {
	root       string
	cfg        *config.Config
	st         *state.Store
	git        *vcs.Git
	dispatcher *dispatch.Dispatcher
	builder    *queue.Builder
	watcher    *watch.Watcher

	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool

	sessionMtimes map[string]time.Time
}

func New(root string, cfg *config.Config, st *state.Store, git *vcs.Git, d *dispatch.Dispatcher, b *queue.Builder) *Loop {
	interval := cfg.Dispatch.PollInterval.Std()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Loop{
		root:          root,
		cfg:           cfg,
		st:            st,
		git:           git,
		dispatcher:    d,
		builder:       b,
		interval:      interval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		sessionMtimes: map[string]time.Time{},
	}
}

// Start begins the loop in the background.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	go l.run(ctx)
}

// Stop gracefully stops the loop and waits for it to finish the current
// iteration.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	close(l.stopCh)
	<-l.doneCh
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(ctx context.Context) {
	logger := log.WithComponent("server")
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		if l.watcher != nil {
			l.watcher.Close()
		}
		close(l.doneCh)
	}()

	var watchDirs []string
	for _, dir := range append(l.cfg.Sources.Issues, l.cfg.Sources.Docs...) {
		watchDirs = append(watchDirs, filepath.Join(l.root, dir))
	}
	watcher, err := watch.New(watchDirs)
	if err != nil {
		logger.Warn().Err(err).Msg("filesystem watcher unavailable; relying on git polling")
	} else {
		l.watcher = watcher
	}

	// Startup order matters: recovery may commit a crashed dispatch and
	// set staleness, which the L0 check then observes.
	if err := l.dispatcher.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("crash recovery failed")
	}
	l.checkL0(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.iterate(ctx); err != nil {
				logger.Error().Err(err).Msg("iteration failed")
			}
		}
	}
}

// iterate is one cooperative turn of the loop.
func (l *Loop) iterate(ctx context.Context) error {
	l.checkL0(ctx)

	if err := l.poll(ctx); err != nil {
		return err
	}

	should, foldFrom, err := l.shouldDispatch(ctx)
	if err != nil {
		return err
	}
	if should {
		l.dispatchOnce(ctx, foldFrom)
	}

	l.checkL0(ctx)
	return nil
}

// poll gathers new artifacts from the watcher, git history, and session
// files into the buffer.
func (l *Loop) poll(ctx context.Context) error {
	if l.watcher != nil {
		for _, path := range l.watcher.Drain() {
			l.bufferPath(ctx, path)
		}
	}
	if err := l.pollGit(ctx); err != nil {
		return err
	}
	return l.pollSessions(ctx)
}

func (l *Loop) bufferPath(ctx context.Context, path string) {
	rel, err := filepath.Rel(l.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	kind := ""
	switch {
	case strings.HasSuffix(rel, ".md"):
		kind = "document"
	case strings.HasSuffix(rel, ".json"):
		kind = "issue"
	default:
		return
	}
	item := state.BufferItem{
		Path:  rel,
		Kind:  kind,
		Chars: int(info.Size()),
		Date:  time.Now().Format("2006-01-02"),
	}
	if err := l.st.AppendBuffer(ctx, item); err != nil {
		logger := log.WithComponent("server")
		logger.Warn().Err(err).Str("path", rel).Msg("buffer append failed")
	}
}

// pollGit advances the commit cursor and buffers documents touched by new
// commits under the configured source roots.
func (l *Loop) pollGit(ctx context.Context) error {
	if l.git == nil {
		return nil
	}
	ss, err := l.st.ServerState(ctx)
	if err != nil {
		return err
	}
	commits, err := l.git.CommitsSince(ss.LastCommit)
	if err != nil {
		// A rewritten branch invalidates the cursor; restart from HEAD.
		logger := log.WithComponent("server")
		logger.Warn().Err(err).Msg("git cursor invalid, resetting")
		head, herr := l.git.Head()
		if herr != nil {
			return nil
		}
		return l.st.SetLastCommit(ctx, head)
	}
	if len(commits) == 0 {
		return nil
	}
	for _, c := range commits {
		for _, file := range c.Files {
			if !l.underSourceRoot(file) || !strings.HasSuffix(file, ".md") {
				continue
			}
			info, err := os.Stat(filepath.Join(l.root, file))
			if err != nil {
				continue
			}
			item := state.BufferItem{
				Path:  file,
				Kind:  "document",
				Chars: int(info.Size()),
				Date:  c.Date,
			}
			if err := l.st.AppendBuffer(ctx, item); err != nil {
				return err
			}
		}
	}
	return l.st.SetLastCommit(ctx, commits[len(commits)-1].SHA)
}

func (l *Loop) underSourceRoot(rel string) bool {
	for _, dir := range l.cfg.Sources.Docs {
		if rel == dir || strings.HasPrefix(rel, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// pollSessions buffers a trigger item whenever a session history file grows.
func (l *Loop) pollSessions(ctx context.Context) error {
	for _, src := range l.cfg.Sources.Sessions {
		info, err := os.Stat(src.Path)
		if err != nil {
			continue
		}
		last, seen := l.sessionMtimes[src.Path]
		if seen && !info.ModTime().After(last) {
			continue
		}
		l.sessionMtimes[src.Path] = info.ModTime()
		if !seen {
			// First sighting establishes the baseline; history already
			// present is the queue builder's business.
			continue
		}
		item := state.BufferItem{
			Path:  src.Path,
			Kind:  "session",
			Chars: int(info.Size()),
			Date:  time.Now().Format("2006-01-02"),
		}
		if err := l.st.AppendBuffer(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// shouldDispatch applies the trigger predicate: buffer fill or any drift
// metric over threshold.
func (l *Loop) shouldDispatch(ctx context.Context) (bool, string, error) {
	ss, err := l.st.ServerState(ctx)
	if err != nil {
		return false, "", err
	}
	total, err := l.st.BufferTotal(ctx)
	if err != nil {
		return false, "", err
	}
	if total >= l.cfg.Dispatch.ThresholdChars {
		return true, ss.FoldFrom, nil
	}

	scanner := drift.NewScanner(l.root, l.cfg, l.git)
	report, err := scanner.Scan(ss.FoldFrom, time.Now())
	if err != nil {
		return false, "", err
	}
	if len(report.Exceeded(l.cfg.Thresholds)) > 0 {
		return true, ss.FoldFrom, nil
	}
	return false, ss.FoldFrom, nil
}

// dispatchOnce rebuilds a drained queue from the buffer's sources and runs
// one dispatch. Scheduler refusals are routine, not errors.
func (l *Loop) dispatchOnce(ctx context.Context, foldFrom string) {
	logger := log.WithComponent("server")
	stateDir := config.StateDir(l.root)

	if queue.Drained(stateDir) {
		if _, err := l.builder.Build(foldFrom); err != nil {
			logger.Error().Err(err).Msg("queue build failed")
			return
		}
	}

	_, err := l.dispatcher.Dispatch(ctx, foldFrom)
	switch {
	case err == nil:
	case errors.Is(err, chunk.ErrAlreadyActive):
		logger.Info().Msg("dispatch skipped: active chunk in flight")
	case errors.Is(err, chunk.ErrNothingToDo):
		logger.Debug().Msg("dispatch skipped: nothing to do")
	case errors.Is(err, dispatch.ErrDispatchFailed):
		logger.Error().Err(err).Msg("dispatch failed; lock left for review")
	default:
		logger.Error().Err(err).Msg("dispatch error")
	}
}

// checkL0 regenerates the briefing when it is stale and the queue has
// drained. The predicate checks the queue file, not the buffer: the queue
// feeds content, the buffer only triggers dispatch, and the two can diverge.
func (l *Loop) checkL0(ctx context.Context) {
	logger := log.WithComponent("server")
	ss, err := l.st.ServerState(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("read server state")
		return
	}
	if !ss.L0Stale || !queue.Drained(config.StateDir(l.root)) {
		return
	}
	if err := briefing.Regenerate(l.root, l.cfg); err != nil {
		logger.Error().Err(err).Msg("briefing regeneration failed")
		return
	}
	if err := l.st.SetL0Stale(ctx, false); err != nil {
		logger.Error().Err(err).Msg("clear l0_stale")
		return
	}
	if err := l.st.SetL0RegeneratedAt(ctx, time.Now()); err != nil {
		logger.Error().Err(err).Msg("record l0 regeneration")
	}
	logger.Info().Msg("briefing regenerated")
}

// CheckL0Once exposes the drain check for one-shot callers (the tests).
func (l *Loop) CheckL0Once(ctx context.Context) {
	l.checkL0(ctx)
}
