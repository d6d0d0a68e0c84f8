package adapters

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rajeshgoli/engram/internal/marshal"
)

// Issues reads issue JSON files from the configured directories (relative to
// root) and renders each to markdown. Malformed or undated records are
// skipped; a missing directory is not an error.
func Issues(root string, dirs []string) ([]Item, error) {
	var items []Item
	for _, dir := range dirs {
		entries, err := os.ReadDir(filepath.Join(root, dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			rel := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(filepath.Join(root, rel))
			if err != nil {
				continue
			}
			issue, err := marshal.ParseIssue(data)
			if err != nil {
				continue
			}
			date := issue.Date()
			if date == "" {
				continue
			}
			rendered, err := marshal.RenderIssue(issue)
			if err != nil {
				continue
			}
			items = append(items, Item{
				Path:    rel,
				Kind:    KindIssue,
				Date:    date,
				Chars:   len(rendered),
				Content: rendered,
			})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		return items[i].Path < items[j].Path
	})
	return items, nil
}
