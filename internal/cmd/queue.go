package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/queue"
)

var buildQueueCmd = &cobra.Command{
	Use:   "build-queue",
	Short: "Run the source adapters and write the chronological queue",
	Args:  cobra.NoArgs,
	RunE:  runBuildQueue,
}

func init() {
	rootCmd.AddCommand(buildQueueCmd)
	buildQueueCmd.Flags().String("start-date", "", "only include entries on or after this date (YYYY-MM-DD); overrides fold_from")
}

func runBuildQueue(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	startDate, _ := cmd.Flags().GetString("start-date")
	if startDate == "" {
		// fold_from is the default filter; an explicit flag overrides it.
		ss, err := e.st.ServerState(context.Background())
		if err != nil {
			return err
		}
		startDate = ss.FoldFrom
	}

	entries, err := queue.NewBuilder(e.root, e.cfg, e.git).Build(startDate)
	if err != nil {
		return err
	}
	fmt.Printf("queued %d entries\n", len(entries))
	return nil
}
