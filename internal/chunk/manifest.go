package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFileName is the append-only record of historical chunks.
const ManifestFileName = "chunks_manifest.yaml"

// ManifestEntry records one produced chunk. Workflow-synthesis entries carry
// the registry hash used as the cooldown key.
type ManifestEntry struct {
	ChunkID              int64     `yaml:"chunk_id"`
	ChunkType            string    `yaml:"chunk_type"`
	WorkflowRegistryHash string    `yaml:"workflow_registry_hash,omitempty"`
	CreatedAt            time.Time `yaml:"created_at"`
}

// ManifestPath returns the manifest location for a state dir.
func ManifestPath(stateDir string) string {
	return filepath.Join(stateDir, ManifestFileName)
}

// ReadManifest loads all manifest entries; a missing file is empty.
func ReadManifest(stateDir string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(ManifestPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chunks manifest: %w", err)
	}
	var entries []ManifestEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse chunks manifest: %w", err)
	}
	return entries, nil
}

// AppendManifest appends one entry and rewrites the manifest.
func AppendManifest(stateDir string, entry ManifestEntry) error {
	entries, err := ReadManifest(stateDir)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	data, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ManifestPath(stateDir), data, 0644); err != nil {
		return fmt.Errorf("write chunks manifest: %w", err)
	}
	return nil
}

// LastOfType returns the most recent manifest entry of the given chunk type,
// or nil.
func LastOfType(entries []ManifestEntry, chunkType string) *ManifestEntry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ChunkType == chunkType {
			return &entries[i]
		}
	}
	return nil
}
