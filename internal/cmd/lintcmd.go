package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/lint"
)

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate the schema of living and graveyard docs",
	Args:  cobra.NoArgs,
	RunE:  runLint,
}

func init() {
	rootCmd.AddCommand(lintCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, false)
	if err != nil {
		return err
	}

	linter := lint.NewSchemaLinter(e.cfg)
	result, err := linter.Lint(e.root, linter.Scope())
	if err != nil {
		return err
	}
	if !result.OK() {
		for _, msg := range result.Messages() {
			fmt.Println(msg)
		}
		return fmt.Errorf("%d schema violations", len(result.Violations))
	}
	fmt.Println("schema ok")
	return nil
}
