package inspector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"slices"
)

// LocalFiles reads a component directly from disk.
type LocalFiles struct {
	projectRoot string
	dir         string
	base        string
	memo        *memo
}

// NewLocalFiles scopes a file inspector to dir (slash separated, relative to projectRoot).
func NewLocalFiles(projectRoot, dir string) *LocalFiles {
	dir = cleanPath(dir)
	return &LocalFiles{
		projectRoot: projectRoot,
		dir:         dir,
		base:        filepath.Join(projectRoot, filepath.FromSlash(dir)),
		memo:        newMemo(defaultMemoEntries),
	}
}

// Root implements FileInspector.
func (l *LocalFiles) Root() string { return l.dir }

// IsRemote implements Remote.
func (l *LocalFiles) IsRemote() bool { return false }

// List returns the entries below from in lexical order. Symlinked directories
// are followed once; a directory reached again through another link is skipped.
func (l *LocalFiles) List(ctx context.Context, from string, opts ScanOptions) ([]FileMeta, error) {
	from = cleanPath(from)
	entries, err := memoize(ctx, l.memo, listKey("list", from, opts), func(ctx context.Context) ([]FileMeta, error) {
		return l.walk(ctx, from, opts.Shallow)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(entries), nil
}

// ScanFor implements FileInspector.
func (l *LocalFiles) ScanFor(ctx context.Context, pattern *regexp.Regexp, from string, opts ScanOptions) (iter.Seq[FileMeta], error) {
	from = cleanPath(from)
	entries, err := memoize(ctx, l.memo, listKey("list", from, opts), func(ctx context.Context) ([]FileMeta, error) {
		return l.walk(ctx, from, opts.Shallow)
	})
	if err != nil {
		return nil, err
	}
	return filterSeq(entries, pattern), nil
}

// ReadContent implements FileInspector.
func (l *LocalFiles) ReadContent(ctx context.Context, path string) ([]byte, error) {
	path = cleanPath(path)
	data, err := memoize(ctx, l.memo, "read|"+path, func(ctx context.Context) ([]byte, error) {
		data, err := os.ReadFile(l.abs(path))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(data), nil
}

// Exists implements FileInspector.
func (l *LocalFiles) Exists(ctx context.Context, path string) (bool, error) {
	path = cleanPath(path)
	return memoize(ctx, l.memo, "exists|"+path, func(ctx context.Context) (bool, error) {
		_, err := os.Stat(l.abs(path))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	})
}

// PurgeCache implements FileInspector.
func (l *LocalFiles) PurgeCache() { l.memo.purge() }

func (l *LocalFiles) abs(rel string) string {
	return filepath.Join(l.base, filepath.FromSlash(rel))
}

func (l *LocalFiles) walk(ctx context.Context, from string, shallow bool) ([]FileMeta, error) {
	start := l.abs(from)
	info, err := os.Stat(start)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", from, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", from)
	}

	visited := map[string]bool{}
	var out []FileMeta
	var visit func(absDir, relDir string) error
	visit = func(absDir, relDir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if canon, err := filepath.EvalSymlinks(absDir); err == nil {
			if visited[canon] {
				return nil
			}
			visited[canon] = true
		}
		entries, err := os.ReadDir(absDir)
		if err != nil {
			// unreadable nested directories are left out of the listing
			if relDir == from {
				return err
			}
			return nil
		}
		for _, e := range entries {
			name := e.Name()
			abs := filepath.Join(absDir, name)
			rel := joinPath(relDir, name)
			isDir := e.IsDir()
			var size int64
			if e.Type()&fs.ModeSymlink != 0 {
				target, err := os.Stat(abs)
				if err != nil {
					continue
				}
				isDir = target.IsDir()
				size = target.Size()
			} else if !isDir {
				if fi, err := e.Info(); err == nil {
					size = fi.Size()
				}
			}
			if isDir && IsSkippedDir(name) {
				continue
			}
			out = append(out, newFileMeta(rel, size, isDir))
			if isDir && !shallow {
				if err := visit(abs, rel); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := visit(start, from); err != nil {
		return nil, err
	}
	return out, nil
}
