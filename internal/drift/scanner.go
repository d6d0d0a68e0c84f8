// Package drift measures how far the living docs have fallen out of
// agreement with reality: orphaned concepts, long-contested claims, stale
// unverified claims, workflow-registry growth.
package drift

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/log"
	"github.com/rajeshgoli/engram/internal/marshal"
	"github.com/rajeshgoli/engram/internal/vcs"
)

// Type identifies one drift condition, doubling as the triage chunk type.
type Type string

const (
	TypeConceptTriage     Type = "concept_triage"
	TypeContestedReview   Type = "contested_review"
	TypeStaleUnverified   Type = "stale_unverified"
	TypeWorkflowSynthesis Type = "workflow_synthesis"
)

// Priority is the fixed evaluation order for drift types.
var Priority = []Type{TypeConceptTriage, TypeContestedReview, TypeStaleUnverified, TypeWorkflowSynthesis}

// Orphan is an ACTIVE concept whose every code-path reference is missing.
type Orphan struct {
	ID    string
	Title string
	Paths []string
}

// Claim is an epistemic entry with an age derived from its history.
type Claim struct {
	ID       string
	Title    string
	Status   string
	LastSeen time.Time
}

// Report is the result of one scan.
type Report struct {
	Orphans         []Orphan
	Contested       []Claim
	StaleUnverified []Claim
	WorkflowCount   int

	// Temporal reference, set when fold_from resolved to a commit.
	RefCommit string
	RefDate   string

	Warnings []string
}

// Exceeded returns the drift types whose thresholds the report exceeds, in
// priority order.
func (r *Report) Exceeded(th config.ThresholdsConfig) []Type {
	var out []Type
	if len(r.Orphans) > th.OrphanTriage {
		out = append(out, TypeConceptTriage)
	}
	if len(r.Contested) > th.ContestedReviewThreshold {
		out = append(out, TypeContestedReview)
	}
	if len(r.StaleUnverified) > th.StaleUnverifiedThreshold {
		out = append(out, TypeStaleUnverified)
	}
	if r.WorkflowCount > th.WorkflowRepetition {
		out = append(out, TypeWorkflowSynthesis)
	}
	return out
}

// Scanner computes drift metrics for one project.
type Scanner struct {
	root string
	cfg  *config.Config
	git  *vcs.Git

	// Evidence sha -> commit time, cached within one run.
	commitTimes map[string]*time.Time
}

func NewScanner(root string, cfg *config.Config, git *vcs.Git) *Scanner {
	return &Scanner{root: root, cfg: cfg, git: git, commitTimes: map[string]*time.Time{}}
}

// Scan computes the four metrics. foldFrom, when non-empty, switches orphan
// existence checks to the repository state at the most recent commit on or
// before that date; claim ages always use wall-clock now.
func (s *Scanner) Scan(foldFrom string, now time.Time) (*Report, error) {
	report := &Report{}

	if foldFrom != "" && s.git != nil {
		commit, err := s.git.ResolveBefore(foldFrom)
		if err != nil {
			// Fall back to today's filesystem rather than stalling
			// the pipeline on an unresolvable reference.
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("cannot resolve fold_from %s to a commit: %v; using filesystem", foldFrom, err))
			logger := log.WithComponent("drift")
			logger.Warn().Str("fold_from", foldFrom).Err(err).
				Msg("temporal reference unresolvable, falling back to filesystem")
		} else {
			report.RefCommit = commit
			report.RefDate = foldFrom
		}
	}

	if err := s.scanConcepts(report); err != nil {
		return nil, err
	}
	if err := s.scanClaims(report, now); err != nil {
		return nil, err
	}
	if err := s.scanWorkflows(report); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Scanner) scanConcepts(report *Report) error {
	entries, err := s.entries(s.cfg.Docs.Concepts)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !strings.EqualFold(e.Fields["Status"], "ACTIVE") {
			continue
		}
		paths := marshal.PathList(e.Fields["Code"])
		if len(paths) == 0 {
			continue
		}
		missing := true
		for _, p := range paths {
			exists, err := s.pathExists(report.RefCommit, p)
			if err != nil {
				return err
			}
			if exists {
				missing = false
				break
			}
		}
		if missing {
			report.Orphans = append(report.Orphans, Orphan{ID: e.ID, Title: e.Title, Paths: paths})
		}
	}
	return nil
}

func (s *Scanner) pathExists(refCommit, path string) (bool, error) {
	if refCommit != "" {
		return s.git.PathExistsAt(refCommit, path)
	}
	_, err := os.Stat(filepath.Join(s.root, path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Scanner) scanClaims(report *Report, now time.Time) error {
	entries, err := s.entries(s.cfg.Docs.Epistemic)
	if err != nil {
		return err
	}
	th := s.cfg.Thresholds
	for _, e := range entries {
		status := strings.ToLower(e.Fields["Status"])
		if status != "contested" && status != "unverified" {
			continue
		}
		lastSeen, ok := s.lastTimestamp(e)
		if !ok {
			continue
		}
		claim := Claim{ID: e.ID, Title: e.Title, Status: status, LastSeen: lastSeen}
		age := now.Sub(lastSeen)
		switch status {
		case "contested":
			if age > time.Duration(th.ContestedReviewDays)*24*time.Hour {
				report.Contested = append(report.Contested, claim)
			}
		case "unverified":
			if age > time.Duration(th.StaleUnverifiedDays)*24*time.Hour {
				report.StaleUnverified = append(report.StaleUnverified, claim)
			}
		}
	}
	return nil
}

func (s *Scanner) scanWorkflows(report *Report) error {
	entries, err := s.entries(s.cfg.Docs.Workflows)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Fields["Status"], "CURRENT") {
			report.WorkflowCount++
		}
	}
	return nil
}

func (s *Scanner) entries(doc string) ([]marshal.Entry, error) {
	data, err := os.ReadFile(filepath.Join(s.root, doc))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", doc, err)
	}
	return marshal.ParseEntries(data), nil
}

var errNoTimestamp = errors.New("no recognizable timestamp")
