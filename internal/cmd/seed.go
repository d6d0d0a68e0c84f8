package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/bootstrap"
	"github.com/rajeshgoli/engram/internal/chunk"
	"github.com/rajeshgoli/engram/internal/dispatch"
	"github.com/rajeshgoli/engram/internal/lint"
	"github.com/rajeshgoli/engram/internal/queue"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Bootstrap the living docs, optionally folding forward from a date",
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

var foldCmd = &cobra.Command{
	Use:   "fold",
	Short: "Run a forward fold from a historical date without re-seeding",
	Args:  cobra.NoArgs,
	RunE:  runFold,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().String("from-date", "", "seed from the repository state at this date (YYYY-MM-DD) and fold forward")

	rootCmd.AddCommand(foldCmd)
	foldCmd.Flags().String("from", "", "fold forward from this date (YYYY-MM-DD)")
	foldCmd.MarkFlagRequired("from")
}

func newController(e *env) *bootstrap.Controller {
	sched := chunk.NewScheduler(e.root, e.cfg, e.st, e.git)
	linter := lint.NewSchemaLinter(e.cfg)
	dispatcher := dispatch.New(e.root, e.cfg, e.st, sched, linter, nil)
	builder := queue.NewBuilder(e.root, e.cfg, e.git)
	return bootstrap.New(e.root, e.cfg, e.st, e.git, dispatcher, builder, nil)
}

func runSeed(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	fromDate, _ := cmd.Flags().GetString("from-date")
	return newController(e).Seed(context.Background(), fromDate)
}

func runFold(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := context.Background()

	from, _ := cmd.Flags().GetString("from")
	if err := queue.ValidateStartDate(from); err != nil {
		return err
	}
	if err := e.st.SetFoldFrom(ctx, &from); err != nil {
		return err
	}
	return newController(e).ForwardFold(ctx)
}
