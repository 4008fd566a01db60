// Package manifest provides types and functions for reading and writing the
// project link file. The link file is a small YAML document stored in the
// project at .cloud-ship/app.yaml that ties a source directory to an
// application on the deployment platform.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the project directory holding the link file. It is never
	// packaged into deployment archives.
	Dir = ".cloud-ship"

	// FileName is the link file name inside Dir.
	FileName = "app.yaml"

	// CurrentVersion is the schema version written by Save.
	CurrentVersion = "1"

	// LastDeploymentFile inside Dir holds the ID of the latest deployment.
	LastDeploymentFile = "last-deployment"
)

// ErrNotLinked is returned by Find when no link file exists in the directory
// or any of its parents.
var ErrNotLinked = errors.New("project is not linked to an application")

// Manifest is the project link file.
//
// Example:
//
//	version: "1"
//	app:
//	  id: app_3f9c
//	  slug: billing-api
//	team:
//	  id: team_81aa
//	  slug: payments
//	deploy:
//	  path: ./service
//	  exclude: [fixtures]
//	  wait: true
type Manifest struct {
	// Version of the link file schema (currently "1")
	Version string `yaml:"version"`

	// App identifies the linked application
	App AppRef `yaml:"app"`

	// Team the application belongs to - optional
	Team TeamRef `yaml:"team,omitempty"`

	// Deploy holds per-project packaging and deployment defaults - optional
	Deploy DeployConfig `yaml:"deploy,omitempty"`

	// root is the project directory the file was loaded from.
	root string
}

// AppRef identifies an application on the platform.
type AppRef struct {
	// ID is the platform identifier used in API calls
	ID string `yaml:"id"`

	// Slug is the human-readable name, used only for display
	Slug string `yaml:"slug,omitempty"`
}

// TeamRef identifies the team owning the application.
type TeamRef struct {
	// ID is the platform identifier
	ID string `yaml:"id,omitempty"`

	// Slug is the human-readable name
	Slug string `yaml:"slug,omitempty"`
}

// DeployConfig holds packaging and wait defaults for the deploy command.
type DeployConfig struct {
	// Path to the source directory, relative to the project root (default ".")
	Path string `yaml:"path,omitempty"`

	// IgnoreFile overrides the ignore file name, relative to Path
	IgnoreFile string `yaml:"ignore_file,omitempty"`

	// Exclude lists extra path components never packaged
	Exclude []string `yaml:"exclude,omitempty"`

	// Wait controls whether deploy follows the build by default (default true)
	Wait *bool `yaml:"wait,omitempty"`
}

// PathIn returns the link file location for a project root.
func PathIn(root string) string {
	return filepath.Join(root, Dir, FileName)
}

// Load reads a link file from disk, parses it, and validates it.
// Returns an error if the file cannot be read, is invalid YAML, or fails validation.
func Load(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read link file: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse link file: %w", err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid link file: %w", err)
	}

	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	manifest.root = filepath.Dir(filepath.Dir(abs))
	return &manifest, nil
}

// Find looks for a link file in dir and its parents and loads the first one.
// Returns ErrNotLinked if none exists.
func Find(dir string) (*Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		p := PathIn(abs)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read link file: %w", err)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, ErrNotLinked
		}
		abs = parent
	}
}

// Validate checks if the link file has all required fields and valid values.
// Returns an error describing what is invalid.
func (m *Manifest) Validate() error {
	if m.Version != "" && m.Version != CurrentVersion {
		return fmt.Errorf("unsupported version %q", m.Version)
	}
	if strings.TrimSpace(m.App.ID) == "" {
		return fmt.Errorf("app.id is required")
	}
	if filepath.IsAbs(m.Deploy.Path) {
		return fmt.Errorf("deploy.path must be relative to the project root")
	}
	for _, ex := range m.Deploy.Exclude {
		if ex == "" || strings.ContainsAny(ex, `/\`) {
			return fmt.Errorf("deploy.exclude entries must be single path components, got %q", ex)
		}
	}
	return nil
}

// Save writes the link file below root, creating Dir if needed.
func (m *Manifest) Save(root string) error {
	if m.Version == "" {
		m.Version = CurrentVersion
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid link file: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode link file: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, Dir), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", Dir, err)
	}
	if err := os.WriteFile(PathIn(root), data, 0644); err != nil {
		return fmt.Errorf("failed to write link file: %w", err)
	}
	m.root = root
	return nil
}

// Root returns the project directory the link file belongs to.
func (m *Manifest) Root() string {
	return m.root
}

// SourceDir returns the directory to package: Deploy.Path resolved against
// the project root.
func (m *Manifest) SourceDir() string {
	if m.Deploy.Path == "" {
		return m.root
	}
	return filepath.Join(m.root, m.Deploy.Path)
}

// ShouldWait reports whether deploy waits for the build by default.
func (m *Manifest) ShouldWait() bool {
	return m.Deploy.Wait == nil || *m.Deploy.Wait
}

// RecordDeployment stores id as the most recent deployment of the project.
func (m *Manifest) RecordDeployment(id string) error {
	if m.root == "" {
		return fmt.Errorf("link file has no project root")
	}
	path := filepath.Join(m.root, Dir, LastDeploymentFile)
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to record deployment: %w", err)
	}
	return nil
}

// LastDeployment returns the deployment stored by RecordDeployment, or an
// empty string when none was recorded.
func (m *Manifest) LastDeployment() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.root, Dir, LastDeploymentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last deployment: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
