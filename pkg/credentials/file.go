package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileContents is the on-disk layout of the credentials file.
type fileContents struct {
	Token  string `yaml:"token,omitempty"`
	APIURL string `yaml:"api_url,omitempty"`
}

// FileStore keeps the API token in a YAML file readable only by the user.
type FileStore struct {
	Path string
}

// NewFileStore returns a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// DefaultFile returns the credentials file under the user's config directory.
func DefaultFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cloud-ship", "credentials.yaml")
}

func (s *FileStore) read() (fileContents, error) {
	var c fileContents
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return c, nil
}

func (s *FileStore) write(c fileContents) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// Token returns the stored token, or ErrNoToken if none is stored.
func (s *FileStore) Token(context.Context) (string, error) {
	c, err := s.read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(c.Token) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(c.Token), nil
}

// APIURL returns the API URL saved with the token, if any.
func (s *FileStore) APIURL() (string, error) {
	c, err := s.read()
	if err != nil {
		return "", err
	}
	return c.APIURL, nil
}

// Save stores token, and apiURL when non-empty.
func (s *FileStore) Save(token, apiURL string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	c, err := s.read()
	if err != nil {
		return err
	}
	c.Token = token
	if apiURL != "" {
		c.APIURL = apiURL
	}
	return s.write(c)
}

// Invalidate removes the stored token and keeps the rest of the file.
func (s *FileStore) Invalidate() error {
	c, err := s.read()
	if err != nil {
		return err
	}
	if c.Token == "" {
		return nil
	}
	c.Token = ""
	return s.write(c)
}
