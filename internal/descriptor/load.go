package descriptor

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	git "github.com/go-git/go-git/v5"
	"gopkg.in/yaml.v3"
)

// DecodeJSON parses the descriptor JSON emitted by the external flake
// evaluator (spec.md §6).
func DecodeJSON(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("decoding deployment descriptor: %w", err)
	}
	return d, nil
}

// DecodeYAML parses a descriptor from a local YAML file, a convenience
// path for file-mode targets (SPEC_FULL.md §6 expansion); the wire
// contract for flake-evaluated deployments stays JSON-only.
func DecodeYAML(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("decoding deployment descriptor yaml: %w", err)
	}
	return d, nil
}

// LoadFile reads a descriptor from disk, dispatching on file extension
// between the YAML convenience path and the canonical JSON format.
func LoadFile(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading descriptor file %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return DecodeYAML(data)
	}
	return DecodeJSON(data)
}

// WarnIfDirty opens repoPath as a git working tree and returns a
// non-fatal warning string if it has uncommitted changes. A non-git
// directory, or any other open/status error, is treated as "nothing to
// warn about" and returns an empty string: this check is a
// courtesy, not a requirement of the deployment protocol.
func WarnIfDirty(repoPath string) string {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return ""
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return ""
	}

	status, err := worktree.Status()
	if err != nil || status.IsClean() {
		return ""
	}

	return fmt.Sprintf("repository at %s has uncommitted changes; deploying a dirty checkout", repoPath)
}
