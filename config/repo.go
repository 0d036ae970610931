// Package config loads service settings from the environment and per-repository
// review configuration from `.github/louro.yml`.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// RepoConfigPath is where a repository keeps its review configuration.
	RepoConfigPath = ".github/louro.yml"

	// maxNotesSize bounds the project notes injected into the review prompt.
	maxNotesSize = 8000
)

// projectNotePaths are checked in order; the first non-empty file wins.
var projectNotePaths = []string{"CLAUDE.md", "AGENTS.md", ".github/CLAUDE.md"}

// ConfigParseError indicates a configuration file exists but contains invalid content.
// A missing file is not an error and yields the defaults.
type ConfigParseError struct {
	Path string
	Err  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("invalid config at %s: %v", e.Path, e.Err)
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// RepoConfig is the review configuration of one repository.
type RepoConfig struct {
	// Enabled turns automatic reviews on or off for the repository.
	Enabled bool `yaml:"enabled"`
	// Exclude lists glob patterns of files left out of the review.
	// Example: ["vendor/**", "*.gen.go", "docs/**"]
	Exclude []string `yaml:"exclude"`
	// Instructions is free-form guidance appended to the review prompt.
	Instructions string `yaml:"instructions"`
	// Language overrides the organization's review language for this repository.
	Language string `yaml:"language,omitempty"`
	// ProjectNotes holds CLAUDE.md or AGENTS.md when the repository has one.
	ProjectNotes string `yaml:"-"`
}

// DefaultRepoConfig returns the configuration used when a repository has no config file.
func DefaultRepoConfig() *RepoConfig {
	return &RepoConfig{Enabled: true}
}

// FileFetcher reads a file at a ref. A missing file is returned as "" with a nil error.
type FileFetcher interface {
	GetFileContent(ctx context.Context, installationID int64, owner, repo, path, ref string) (string, error)
}

// Loader loads configuration from repositories.
type Loader struct {
	files FileFetcher
}

// NewLoader creates a new config loader.
func NewLoader(files FileFetcher) *Loader {
	return &Loader{files: files}
}

// Load fetches and parses the config of a repository at ref.
// If the config file doesn't exist, returns the default config.
// If the config file exists but is invalid, returns a ConfigParseError.
func (l *Loader) Load(ctx context.Context, installationID int64, owner, repo, ref string) (*RepoConfig, error) {
	content, err := l.files.GetFileContent(ctx, installationID, owner, repo, RepoConfigPath, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config: %w", err)
	}

	cfg := DefaultRepoConfig()
	if content != "" {
		cfg, err = ParseRepoConfig([]byte(content))
		if err != nil {
			return nil, &ConfigParseError{Path: RepoConfigPath, Err: err}
		}
	}

	for _, path := range projectNotePaths {
		notes, err := l.files.GetFileContent(ctx, installationID, owner, repo, path, ref)
		if err != nil || notes == "" {
			continue
		}
		if len(notes) > maxNotesSize {
			notes = notes[:maxNotesSize]
		}
		cfg.ProjectNotes = notes
		break
	}

	return cfg, nil
}

// ParseRepoConfig parses a config from YAML content.
func ParseRepoConfig(content []byte) (*RepoConfig, error) {
	cfg := DefaultRepoConfig()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *RepoConfig) Validate() error {
	for _, pattern := range c.Exclude {
		if _, err := filepath.Match(strings.ReplaceAll(pattern, "**", "*"), ""); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	if c.Language != "" {
		if _, err := CanonicalLanguage(c.Language); err != nil {
			return err
		}
	}
	return nil
}

// ShouldExcludeFile returns true if the file path matches any exclude pattern.
func (c *RepoConfig) ShouldExcludeFile(path string) bool {
	for _, pattern := range c.Exclude {
		if strings.Contains(pattern, "**") {
			parts := strings.SplitN(pattern, "**", 2)
			prefix, suffix := parts[0], strings.TrimPrefix(parts[1], "/")
			if prefix != "" && strings.HasPrefix(path, prefix) {
				if suffix == "" {
					return true
				}
				if ok, _ := filepath.Match(suffix, filepath.Base(path)); ok {
					return true
				}
			}
			if prefix == "" && suffix != "" {
				if ok, _ := filepath.Match(suffix, filepath.Base(path)); ok {
					return true
				}
			}
			continue
		}

		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}

		// "*.gen.go" should match at any depth
		if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
			return true
		}
	}
	return false
}
