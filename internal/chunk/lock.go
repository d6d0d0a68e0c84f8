package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LockFileName is the active-chunk sentinel, sibling to the state store.
// Its presence means a chunk has been produced and not yet finalized.
const LockFileName = "active_chunk.yaml"

// Lock describes the chunk currently in flight.
type Lock struct {
	ChunkID    int64     `yaml:"chunk_id"`
	ChunkType  string    `yaml:"chunk_type"`
	InputPath  string    `yaml:"input_path"`
	PromptPath string    `yaml:"prompt_path"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// LockPath returns the lock file location for a state dir.
func LockPath(stateDir string) string {
	return filepath.Join(stateDir, LockFileName)
}

// ReadLock reads the active-chunk lock; (nil, nil) when absent.
func ReadLock(stateDir string) (*Lock, error) {
	data, err := os.ReadFile(LockPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read active-chunk lock: %w", err)
	}
	var lock Lock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse active-chunk lock: %w", err)
	}
	return &lock, nil
}

// WriteLock writes the lock. Callers must only do this after the chunk files
// are durably on disk.
func WriteLock(stateDir string, lock *Lock) error {
	data, err := yaml.Marshal(lock)
	if err != nil {
		return err
	}
	if err := os.WriteFile(LockPath(stateDir), data, 0644); err != nil {
		return fmt.Errorf("write active-chunk lock: %w", err)
	}
	return nil
}

// ClearLock removes the lock; clearing an absent lock is not an error.
func ClearLock(stateDir string) error {
	err := os.Remove(LockPath(stateDir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear active-chunk lock: %w", err)
	}
	return nil
}
