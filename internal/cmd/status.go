package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/chunk"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print buffer fill, pending items and dispatch state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := context.Background()

	ss, err := e.st.ServerState(ctx)
	if err != nil {
		return err
	}
	entries, err := queue.Load(config.StateDir(e.root))
	if err != nil {
		return err
	}

	fmt.Printf("buffer: %d chars (threshold %d)\n", ss.BufferChars, e.cfg.Dispatch.ThresholdChars)
	fmt.Printf("queue: %d pending entries\n", len(entries))

	if last, err := e.st.LastDispatch(ctx); err != nil {
		return err
	} else if last != nil {
		fmt.Printf("last dispatch: #%d chunk %d (%s) %s at %s\n",
			last.ID, last.ChunkID, last.ChunkType, last.State, last.UpdatedAt)
	} else {
		fmt.Println("last dispatch: none")
	}

	if lock, err := chunk.ReadLock(config.StateDir(e.root)); err != nil {
		return err
	} else if lock != nil {
		fmt.Printf("active chunk: %d (%s)\n", lock.ChunkID, lock.ChunkType)
	}

	foldFrom := ss.FoldFrom
	if foldFrom == "" {
		foldFrom = "unset"
	}
	fmt.Printf("fold_from: %s\n", foldFrom)
	fmt.Printf("l0_stale: %v\n", ss.L0Stale)
	return nil
}
