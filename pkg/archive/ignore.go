package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// IgnoreFileName is the per-project ignore file read from the project root.
const IgnoreFileName = ".cloudshipignore"

// DefaultExclusions are path components never packaged, wherever they occur.
var DefaultExclusions = []string{
	".git",
	".hg",
	".svn",
	".venv",
	"venv",
	"__pycache__",
	".mypy_cache",
	".pytest_cache",
	".ruff_cache",
	"node_modules",
	".env",
	".cloud-ship",
}

type rule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// Matcher decides whether a project-relative path is ignored. It supports a
// subset of gitignore syntax: comments, blank lines, glob patterns, a
// trailing "/" for directories, a leading "/" to anchor at the root and a
// leading "!" to re-include. The last matching rule wins.
type Matcher struct {
	rules []rule
}

// ParseIgnore reads ignore rules from r.
func ParseIgnore(r io.Reader) (*Matcher, error) {
	m := &Matcher{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var rl rule
		if strings.HasPrefix(line, "!") {
			rl.negate = true
			line = line[1:]
		}
		line = strings.TrimPrefix(line, "**/")
		if strings.HasSuffix(line, "/") {
			rl.dirOnly = true
			line = strings.TrimRight(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			rl.anchored = true
			line = strings.TrimLeft(line, "/")
		}
		if strings.Contains(line, "/") {
			rl.anchored = true
		}
		if line == "" {
			continue
		}
		if _, err := path.Match(line, ""); err != nil {
			return nil, fmt.Errorf("line %d: invalid pattern %q: %w", lineNo, line, err)
		}
		rl.pattern = line
		m.rules = append(m.rules, rl)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadIgnore reads the ignore file at p. A missing file yields an empty
// Matcher.
func LoadIgnore(p string) (*Matcher, error) {
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return &Matcher{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer f.Close()

	m, err := ParseIgnore(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	return m, nil
}

// Ignored reports whether rel, a forward-slash path relative to the project
// root, is ignored.
func (m *Matcher) Ignored(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	ignored := false
	base := path.Base(rel)
	for _, rl := range m.rules {
		if rl.dirOnly && !isDir {
			continue
		}
		target := base
		if rl.anchored {
			target = rel
		}
		if ok, _ := path.Match(rl.pattern, target); ok {
			ignored = !rl.negate
		}
	}
	return ignored
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}
