package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/chunk"
	"github.com/rajeshgoli/engram/internal/config"
)

var nextChunkCmd = &cobra.Command{
	Use:   "next-chunk",
	Short: "Assemble the next chunk for the fold agent",
	Args:  cobra.NoArgs,
	RunE:  runNextChunk,
}

var clearActiveChunkCmd = &cobra.Command{
	Use:   "clear-active-chunk",
	Short: "Remove the active-chunk lock",
	Args:  cobra.NoArgs,
	RunE:  runClearActiveChunk,
}

func init() {
	rootCmd.AddCommand(nextChunkCmd)
	rootCmd.AddCommand(clearActiveChunkCmd)
}

func runNextChunk(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	ss, err := e.st.ServerState(context.Background())
	if err != nil {
		return err
	}

	sched := chunk.NewScheduler(e.root, e.cfg, e.st, e.git)
	c, err := sched.Next(context.Background(), ss.FoldFrom)
	if err != nil {
		return err
	}
	fmt.Printf("chunk %d (%s): %s\n", c.ID, c.Type, c.InputPath)
	return nil
}

func runClearActiveChunk(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	stateDir := config.StateDir(root)
	lock, err := chunk.ReadLock(stateDir)
	if err != nil {
		return err
	}
	if lock == nil {
		fmt.Println("no active chunk")
		return nil
	}
	if err := chunk.ClearLock(stateDir); err != nil {
		return err
	}
	fmt.Printf("cleared active chunk %d\n", lock.ChunkID)
	return nil
}
