// Package archive packages a project directory into a gzip-compressed tar
// for upload. Paths in the archive are relative with forward slashes and
// directory entries are omitted.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/jvreagan/cloud-ship/pkg/logging"
)

// FileName is the name of the archive inside its scratch directory.
const FileName = "source.tar.gz"

// Options controls which files are packaged.
type Options struct {
	// IgnoreFile is the ignore file path, relative to the project root
	// unless absolute. Defaults to IgnoreFileName.
	IgnoreFile string

	// Exclude lists extra path components skipped in addition to
	// DefaultExclusions.
	Exclude []string

	// ScratchDir is the parent of the private scratch directory. Defaults to
	// the system temp directory.
	ScratchDir string

	Logger *slog.Logger
}

// Archive is a packaged project on local disk.
type Archive struct {
	// Path is the archive file.
	Path string

	// Size is the archive size in bytes.
	Size int64

	// Files is the number of files packaged.
	Files int

	dir string
}

// Close removes the archive and its scratch directory.
func (a *Archive) Close() error {
	if a == nil || a.dir == "" {
		return nil
	}
	err := os.RemoveAll(a.dir)
	a.dir = ""
	return err
}

// Open opens the archive for reading.
func (a *Archive) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Create packages the directory root. Any error reading the tree is returned
// and leaves nothing behind.
func Create(ctx context.Context, root string, opts Options) (*Archive, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path %s is not a directory", root)
	}

	ignorePath := opts.IgnoreFile
	if ignorePath == "" {
		ignorePath = IgnoreFileName
	}
	if !filepath.IsAbs(ignorePath) {
		ignorePath = filepath.Join(abs, ignorePath)
	}
	matcher, err := LoadIgnore(ignorePath)
	if err != nil {
		return nil, err
	}

	excluded := append(slices.Clone(DefaultExclusions), opts.Exclude...)

	dir, err := os.MkdirTemp(opts.ScratchDir, "cloud-ship-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	a := &Archive{Path: filepath.Join(dir, FileName), dir: dir}

	if err := a.write(ctx, abs, matcher, excluded, logger); err != nil {
		a.Close()
		return nil, err
	}

	st, err := os.Stat(a.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	a.Size = st.Size()

	logger.Debug("archive created",
		"root", abs,
		"files", a.Files,
		"bytes", a.Size,
		"ignore_rules", matcher.Len())
	return a, nil
}

func (a *Archive) write(ctx context.Context, root string, matcher *Matcher, excluded []string, logger *slog.Logger) error {
	out, err := os.Create(a.Path)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if slices.Contains(excluded, d.Name()) || matcher.Ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			logger.Debug("skipping non-regular file", "path", rel)
			return nil
		}
		return a.addFile(tw, p, rel)
	})
	if walkErr != nil {
		return fmt.Errorf("failed to package project: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

func (a *Archive) addFile(tw *tar.Writer, p, rel string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = rel
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("%s: %w", rel, err)
	}
	a.Files++
	return nil
}
