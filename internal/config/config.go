package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file expected at the project root.
const FileName = "engram.yaml"

// StateDirName is the per-project state directory.
const StateDirName = ".engram"

type Config struct {
	Docs       DocsConfig       `yaml:"docs"`
	Graveyard  GraveyardConfig  `yaml:"graveyard"`
	Briefing   BriefingConfig   `yaml:"briefing"`
	Sources    SourcesConfig    `yaml:"sources"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Budget     BudgetConfig     `yaml:"budget"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	FoldAgent  AgentConfig      `yaml:"fold_agent"`
	SeedAgent  AgentConfig      `yaml:"seed_agent"`
	Log        LogConfig        `yaml:"log"`
}

// DocsConfig names the four living documents, relative to the project root.
type DocsConfig struct {
	Timeline  string `yaml:"timeline"`
	Concepts  string `yaml:"concepts"`
	Epistemic string `yaml:"epistemic"`
	Workflows string `yaml:"workflows"`
}

// GraveyardConfig names the two append-only graveyard documents.
type GraveyardConfig struct {
	Concepts  string `yaml:"concepts"`
	Epistemic string `yaml:"epistemic"`
}

type BriefingConfig struct {
	File    string `yaml:"file"`
	Section string `yaml:"section"`
}

type SourcesConfig struct {
	Issues   []string        `yaml:"issues"`
	Docs     []string        `yaml:"docs"`
	Sessions []SessionSource `yaml:"sessions"`
}

// SessionSource describes one session-history file to ingest.
type SessionSource struct {
	Path         string `yaml:"path"`
	Format       string `yaml:"format"`
	ProjectMatch string `yaml:"project_match"`
}

type ThresholdsConfig struct {
	OrphanTriage             int `yaml:"orphan_triage"`
	ContestedReviewDays      int `yaml:"contested_review_days"`
	ContestedReviewThreshold int `yaml:"contested_review_threshold"`
	StaleUnverifiedDays      int `yaml:"stale_unverified_days"`
	StaleUnverifiedThreshold int `yaml:"stale_unverified_threshold"`
	WorkflowRepetition       int `yaml:"workflow_repetition"`
}

type BudgetConfig struct {
	ContextLimitChars    int `yaml:"context_limit_chars"`
	InstructionsOverhead int `yaml:"instructions_overhead"`
	MaxChunkChars        int `yaml:"max_chunk_chars"`
	MaxIDsPerCategory    int `yaml:"max_ids_per_category"`
}

type DispatchConfig struct {
	ThresholdChars int      `yaml:"threshold_chars"`
	PollInterval   Duration `yaml:"poll_interval"`
	CooldownChunks int      `yaml:"cooldown_chunks"`
}

// AgentConfig is an opaque subprocess invocation: the command argv plus the
// model identifier passed through to the agent.
type AgentConfig struct {
	Command []string `yaml:"command"`
	Model   string   `yaml:"model"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() *Config {
	return &Config{
		Docs: DocsConfig{
			Timeline:  "knowledge/timeline.md",
			Concepts:  "knowledge/concepts.md",
			Epistemic: "knowledge/epistemic.md",
			Workflows: "knowledge/workflows.md",
		},
		Graveyard: GraveyardConfig{
			Concepts:  "knowledge/graveyard/concepts.md",
			Epistemic: "knowledge/graveyard/epistemic.md",
		},
		Briefing: BriefingConfig{
			File:    "knowledge/briefing.md",
			Section: "## Briefing",
		},
		Sources: SourcesConfig{
			Issues: []string{".issues"},
			Docs:   []string{"docs"},
		},
		Thresholds: ThresholdsConfig{
			OrphanTriage:             5,
			ContestedReviewDays:      14,
			ContestedReviewThreshold: 3,
			StaleUnverifiedDays:      30,
			StaleUnverifiedThreshold: 5,
			WorkflowRepetition:       20,
		},
		Budget: BudgetConfig{
			ContextLimitChars:    160000,
			InstructionsOverhead: 8000,
			MaxChunkChars:        60000,
			MaxIDsPerCategory:    8,
		},
		Dispatch: DispatchConfig{
			ThresholdChars: 24000,
			PollInterval:   Duration(30 * time.Second),
			CooldownChunks: 3,
		},
		FoldAgent: AgentConfig{
			Command: []string{"claude", "-p"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the config file at the project root, merging it over defaults.
// A missing file yields the defaults.
func Load(projectRoot string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filepath.Join(projectRoot, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Budget.ContextLimitChars <= 0 {
		return fmt.Errorf("budget.context_limit_chars must be positive")
	}
	if c.Budget.MaxChunkChars <= 0 {
		return fmt.Errorf("budget.max_chunk_chars must be positive")
	}
	for _, s := range c.Sources.Sessions {
		switch s.Format {
		case "claude-code", "codex":
		default:
			return fmt.Errorf("unknown session format %q", s.Format)
		}
	}
	return nil
}

// LivingDocs returns the four living document paths in their fixed order:
// timeline, concepts, epistemic, workflows.
func (c *Config) LivingDocs() []string {
	return []string{c.Docs.Timeline, c.Docs.Concepts, c.Docs.Epistemic, c.Docs.Workflows}
}

// GraveyardDocs returns the two graveyard paths.
func (c *Config) GraveyardDocs() []string {
	return []string{c.Graveyard.Concepts, c.Graveyard.Epistemic}
}

// StateDir returns the .engram directory for a project root.
func StateDir(projectRoot string) string {
	return filepath.Join(projectRoot, StateDirName)
}
