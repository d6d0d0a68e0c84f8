package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/ids"
	"github.com/rajeshgoli/engram/internal/lint"
	"github.com/rajeshgoli/engram/internal/marshal"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/state"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Backfill identifiers on pre-existing docs and initialize counters",
	Long: `Migrate adapts a project with hand-written knowledge docs: entries
without identifiers get freshly reserved ones, graveyard files are created,
and the identifier counters are floored above every id already in use. Safe
to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("fold-from", "", "also set the fold-from marker (YYYY-MM-DD)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := context.Background()

	foldFrom, _ := cmd.Flags().GetString("fold-from")
	if foldFrom != "" {
		if err := queue.ValidateStartDate(foldFrom); err != nil {
			return err
		}
	}

	categoryDocs := map[string]string{
		state.CategoryConcept:  e.cfg.Docs.Concepts,
		state.CategoryClaim:    e.cfg.Docs.Epistemic,
		state.CategoryWorkflow: e.cfg.Docs.Workflows,
	}

	backfilled := 0
	for cat, doc := range categoryDocs {
		n, err := backfillDoc(ctx, e, cat, doc)
		if err != nil {
			return err
		}
		backfilled += n
	}

	// Counters end up floored above everything now in use, whether or not
	// this run assigned it.
	max, err := ids.MaxExisting(e.root, e.cfg.LivingDocs())
	if err != nil {
		return err
	}
	for _, cat := range state.EntryCategories {
		if err := e.st.BumpCounterFloor(ctx, cat, max[cat]+1); err != nil {
			return err
		}
	}

	for _, doc := range e.cfg.GraveyardDocs() {
		content := fmt.Sprintf("# Graveyard\n%s\n", lint.SchemaHeader)
		if err := writeIfAbsent(filepath.Join(e.root, doc), content); err != nil {
			return err
		}
	}

	if foldFrom != "" {
		if err := e.st.SetFoldFrom(ctx, &foldFrom); err != nil {
			return err
		}
	}

	fmt.Printf("migrated: %d identifiers backfilled\n", backfilled)
	return nil
}

// backfillDoc assigns identifiers to headings that lack one, rewriting the
// document in place.
func backfillDoc(ctx context.Context, e *env, category, doc string) (int, error) {
	path := filepath.Join(e.root, doc)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var missing []marshal.Entry
	for _, entry := range marshal.ParseEntries(data) {
		if entry.ID == "" && entry.Title != "" {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	assignment, err := ids.PreAssign(ctx, e.st, e.root, e.cfg.LivingDocs(),
		map[string]int{category: len(missing)})
	if err != nil {
		return 0, err
	}
	nums := assignment[category]

	lines := strings.Split(string(data), "\n")
	for i, entry := range missing {
		idx := entry.Line - 1
		if idx < 0 || idx >= len(lines) {
			continue
		}
		lines[idx] = fmt.Sprintf("## %s — %s", ids.Format(category, nums[i]), entry.Title)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return 0, err
	}
	return len(missing), nil
}
