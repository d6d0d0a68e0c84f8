// Package cmd wires the engram CLI.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/log"
	"github.com/rajeshgoli/engram/internal/state"
	"github.com/rajeshgoli/engram/internal/vcs"
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Keep living knowledge docs in sync with a repository",
	Long: `Engram ingests artifacts from issue trackers, git history and session
logs, packages them into bounded chunks, and dispatches an external fold
agent to keep a project's living markdown documents current.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Errors surface as a single line with a non-zero
// exit.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "engram: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("root", "C", ".", "project root")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
}

// projectRoot resolves the --root flag to an absolute path.
func projectRoot(cmd *cobra.Command) (string, error) {
	root, _ := cmd.Root().PersistentFlags().GetString("root")
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	return abs, nil
}

// env is the common per-command setup: config, logging, store, git handle.
type env struct {
	root string
	cfg  *config.Config
	st   *state.Store
	git  *vcs.Git
}

func (e *env) close() {
	if e.st != nil {
		e.st.Close()
	}
}

func loadEnv(cmd *cobra.Command, openStore bool) (*env, error) {
	root, err := projectRoot(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if debug, _ := cmd.Root().PersistentFlags().GetBool("debug"); debug {
		level = "debug"
	}
	log.Init(log.Config{Level: level, JSONOutput: cfg.Log.JSON})

	e := &env{root: root, cfg: cfg}
	if g := vcs.New(root); g.IsRepo() {
		e.git = g
	}
	if openStore {
		st, err := state.Open(filepath.Join(config.StateDir(root), state.FileName))
		if err != nil {
			return nil, err
		}
		e.st = st
	}
	return e, nil
}
