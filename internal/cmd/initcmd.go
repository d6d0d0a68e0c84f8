package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/lint"
	"github.com/rajeshgoli/engram/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the state store, config template and empty living docs",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

var docTitles = map[int]string{
	0: "Timeline",
	1: "Concepts",
	2: "Epistemic",
	3: "Workflows",
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	cfg := config.DefaultConfig()

	// Config template, only if absent.
	cfgPath := filepath.Join(root, config.FileName)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config template: %w", err)
		}
	} else if cfg, err = config.Load(root); err != nil {
		return err
	}

	st, err := state.Open(filepath.Join(config.StateDir(root), state.FileName))
	if err != nil {
		return err
	}
	defer st.Close()

	for i, doc := range cfg.LivingDocs() {
		content := fmt.Sprintf("# %s\n%s\n", docTitles[i], lint.SchemaHeader)
		if err := writeIfAbsent(filepath.Join(root, doc), content); err != nil {
			return err
		}
	}
	for _, doc := range cfg.GraveyardDocs() {
		content := fmt.Sprintf("# Graveyard\n%s\n", lint.SchemaHeader)
		if err := writeIfAbsent(filepath.Join(root, doc), content); err != nil {
			return err
		}
	}

	fmt.Printf("initialized engram in %s\n", config.StateDir(root))
	return nil
}

func writeIfAbsent(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}
