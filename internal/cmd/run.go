package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/chunk"
	"github.com/rajeshgoli/engram/internal/dispatch"
	"github.com/rajeshgoli/engram/internal/lint"
	"github.com/rajeshgoli/engram/internal/log"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the knowledge server loop in the foreground",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	sched := chunk.NewScheduler(e.root, e.cfg, e.st, e.git)
	linter := lint.NewSchemaLinter(e.cfg)
	dispatcher := dispatch.New(e.root, e.cfg, e.st, sched, linter, nil)
	builder := queue.NewBuilder(e.root, e.cfg, e.git)

	loop := server.New(e.root, e.cfg, e.st, e.git, dispatcher, builder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	logger := log.WithComponent("server")
	logger.Info().Str("root", e.root).Msg("engram running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
	loop.Stop()
	return nil
}
