// Package queue builds and persists the chronological artifact queue that
// feeds fold chunks.
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rajeshgoli/engram/internal/adapters"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/vcs"
)

const (
	// FileName is the persisted queue, line-delimited JSON.
	FileName = "queue.jsonl"
	// SizesFileName is the full unfiltered item-size inventory.
	SizesFileName = "item_sizes.json"
	// SessionsDirName holds rendered session snapshots.
	SessionsDirName = "sessions"
)

// ErrInvalidStartDate rejects any start date that is not a bare YYYY-MM-DD.
// An ISO datetime would silently exclude same-day entries via prefix
// comparison, so only 10-character date strings are accepted.
var ErrInvalidStartDate = errors.New("start date must be YYYY-MM-DD")

var startDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateStartDate checks the strict date-string form.
func ValidateStartDate(s string) error {
	if !startDatePattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidStartDate, s)
	}
	return nil
}

// Entry is one queued artifact.
type Entry struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Date  string `json:"date"`
	Label string `json:"label,omitempty"`
	Chars int    `json:"chars"`
}

// Builder assembles the queue from the source adapters.
type Builder struct {
	root string
	cfg  *config.Config
	git  *vcs.Git
}

// NewBuilder creates a queue builder. git may be nil when the project is not
// a repository.
func NewBuilder(root string, cfg *config.Config, git *vcs.Git) *Builder {
	return &Builder{root: root, cfg: cfg, git: git}
}

// Build gathers entries from all adapters, sorts them chronologically,
// applies the optional start-date filter, writes surviving session snapshots
// plus the queue and inventory files, and returns the queue.
//
// startDate is validated before any side effect; pass "" for the full queue.
func (b *Builder) Build(startDate string) ([]Entry, error) {
	if startDate != "" {
		if err := ValidateStartDate(startDate); err != nil {
			return nil, err
		}
	}

	issueItems, err := adapters.Issues(b.root, b.cfg.Sources.Issues)
	if err != nil {
		return nil, fmt.Errorf("issue adapter: %w", err)
	}
	docItems, err := adapters.Documents(b.root, b.cfg.Sources.Docs, b.git)
	if err != nil {
		return nil, fmt.Errorf("document adapter: %w", err)
	}
	sessionItems, err := adapters.Sessions(b.cfg.Sources.Sessions)
	if err != nil {
		return nil, fmt.Errorf("session adapter: %w", err)
	}

	stateDir := config.StateDir(b.root)
	items := make([]adapters.Item, 0, len(issueItems)+len(docItems)+len(sessionItems))
	items = append(items, issueItems...)
	items = append(items, docItems...)
	for _, it := range sessionItems {
		// Session snapshots are addressed project-root relative like
		// everything else, but live under the state dir.
		it.Path = filepath.Join(config.StateDirName, SessionsDirName, it.SessionID+".md")
		items = append(items, it)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		return items[i].Path < items[j].Path
	})

	// The inventory covers everything, unaffected by the filter; drift
	// reasoning wants the full picture.
	inventory := toEntries(items)
	if err := writeJSON(filepath.Join(stateDir, SizesFileName), inventory); err != nil {
		return nil, err
	}

	var surviving []adapters.Item
	for _, it := range items {
		if startDate != "" && len(it.Date) >= 10 && it.Date[:10] < startDate {
			continue
		}
		surviving = append(surviving, it)
	}

	// Session drafts are written only for entries that survive filtering.
	for _, it := range surviving {
		if it.Kind != adapters.KindSession {
			continue
		}
		dest := filepath.Join(b.root, it.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dest, it.Content, 0644); err != nil {
			return nil, fmt.Errorf("write session snapshot: %w", err)
		}
	}

	entries := toEntries(surviving)
	if err := Save(stateDir, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func toEntries(items []adapters.Item) []Entry {
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, Entry{
			Path:  it.Path,
			Kind:  string(it.Kind),
			Date:  it.Date,
			Label: it.Label,
			Chars: it.Chars,
		})
	}
	return entries
}

// Path returns the queue file location for a state dir.
func Path(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// Load reads the persisted queue. A missing file is an empty queue.
func Load(stateDir string) ([]Entry, error) {
	data, err := os.ReadFile(Path(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue: %w", err)
	}
	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("parse queue: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Save rewrites the queue file.
func Save(stateDir string, entries []Entry) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}
	var buf []byte
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := os.WriteFile(Path(stateDir), buf, 0644); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}

// Drained reports whether the persisted queue file is absent or empty. The
// drain predicate checks the queue, not the buffer.
func Drained(stateDir string) bool {
	info, err := os.Stat(Path(stateDir))
	if err != nil {
		return true
	}
	return info.Size() == 0
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
