// Package ids allocates the stable entry identifiers (C042, E007, W012)
// embedded in chunk inputs. Identifiers are reserved up front, never lazily,
// and never reused.
package ids

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/rajeshgoli/engram/internal/state"
)

// idPattern matches any entry identifier occurrence, definition or
// cross-reference. Living docs are treated as opaque text; a flat scan is
// all the allocator needs.
var idPattern = regexp.MustCompile(`\b([CEW])(\d{3,})\b`)

// Format renders an identifier in its canonical zero-padded form.
func Format(category string, n int) string {
	return fmt.Sprintf("%s%03d", category, n)
}

// Assignment maps category to the identifiers pre-assigned to one chunk.
type Assignment map[string][]int

// Total returns the number of assigned identifiers across categories.
func (a Assignment) Total() int {
	n := 0
	for _, v := range a {
		n += len(v)
	}
	return n
}

// MaxExisting scans the given documents (paths relative to root) for the
// highest identifier per category. Missing files are skipped.
func MaxExisting(root string, docs []string) (map[string]int, error) {
	max := map[string]int{}
	for _, doc := range docs {
		data, err := os.ReadFile(filepath.Join(root, doc))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan %s: %w", doc, err)
		}
		for _, m := range idPattern.FindAllSubmatch(data, -1) {
			n, err := strconv.Atoi(string(m[2]))
			if err != nil {
				continue
			}
			cat := string(m[1])
			if n > max[cat] {
				max[cat] = n
			}
		}
	}
	return max, nil
}

// PreAssign reserves identifiers for a chunk: per category, the counter floor
// is first raised above the highest id already present in the living docs,
// then counts[category] ids are reserved. Floor bump and reservation happen
// in one transaction so counters and docs cannot drift apart mid-assignment.
func PreAssign(ctx context.Context, st *state.Store, root string, docs []string, counts map[string]int) (Assignment, error) {
	max, err := MaxExisting(root, docs)
	if err != nil {
		return nil, err
	}

	assignment := Assignment{}
	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		for _, cat := range state.EntryCategories {
			if err := state.BumpCounterFloorTx(tx, cat, max[cat]+1); err != nil {
				return err
			}
			k := counts[cat]
			if k <= 0 {
				continue
			}
			lo, hi, err := state.ReserveIDsTx(tx, cat, k)
			if err != nil {
				return err
			}
			nums := make([]int, 0, hi-lo)
			for n := lo; n < hi; n++ {
				nums = append(nums, n)
			}
			assignment[cat] = nums
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}
