package adapters

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rajeshgoli/engram/internal/marshal"
	"github.com/rajeshgoli/engram/internal/vcs"
)

// filenameDate matches a leading YYYY-MM-DD in a file name.
var filenameDate = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)

// Documents walks the configured source roots for markdown documents and
// emits one INITIAL entry per document at the date docDate resolves, plus a
// REVISIT entry at its last git commit date when that lands on a later day.
// git may be nil (no repository); dates then come from frontmatter, filename
// or mtime.
func Documents(root string, roots []string, git *vcs.Git) ([]Item, error) {
	var items []Item
	for _, src := range roots {
		base := filepath.Join(root, src)
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipAll
				}
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			items = append(items, docItems(root, rel, git)...)
			return nil
		})
		if err != nil {
			return nil, err
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

func docItems(root, rel string, git *vcs.Git) []Item {
	info, err := os.Stat(filepath.Join(root, rel))
	if err != nil {
		return nil
	}
	chars := int(info.Size())

	initial := docDate(root, rel, git)
	if initial == "" {
		return nil
	}
	items := []Item{{Path: rel, Kind: KindDocument, Date: initial, Label: LabelInitial, Chars: chars}}

	if git != nil {
		if last, err := git.LastCommitDate(rel); err == nil && last > initial {
			items = append(items, Item{Path: rel, Kind: KindDocument, Date: last, Label: LabelRevisit, Chars: chars})
		}
	}
	return items
}

// docDate resolves a document's initial date: frontmatter, then filename
// pattern, then git first-commit, then file mtime.
func docDate(root, rel string, git *vcs.Git) string {
	if data, err := os.ReadFile(filepath.Join(root, rel)); err == nil {
		if doc, err := marshal.ParseDocument(data); err == nil {
			if d := marshal.FrontmatterDate(doc.Frontmatter); d != "" {
				return d
			}
		}
	}
	if m := filenameDate.FindStringSubmatch(filepath.Base(rel)); m != nil {
		return m[1]
	}
	if git != nil {
		if first, err := git.FirstCommitDate(rel); err == nil {
			return first
		}
	}
	if info, err := os.Stat(filepath.Join(root, rel)); err == nil {
		return info.ModTime().Format("2006-01-02")
	}
	return ""
}
