// Package walk lists the image files of the folders selected by the operator.
package walk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Entry is a regular file found by a walk. It satisfies model.FileHandle.
type Entry interface {
	Path() string
	Open() (io.ReadCloser, error)
	Stat() (fs.FileInfo, error)
}

// Roots is a convenience wrapper around FS for os.Root. See FS for details.
func Roots(ctx context.Context, exts []string, roots ...*os.Root) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for _, root := range roots {
			for entry, err := range FS(ctx, root.FS(), root.Name(), exts) {
				if !yield(entry, err) {
					return
				}
			}
		}
	}
}

// FS recursively walks root and yields every regular file whose extension is
// one of exts, compared case-insensitively. An empty exts accepts any file.
// Hidden directories are skipped and symlinks are not followed.
// Each Entry's Path() is prefixed with name.
func FS(ctx context.Context, root fs.FS, name string, exts []string) iter.Seq2[Entry, error] {
	if root == nil {
		panic("root is nil")
	}
	accept := acceptFunc(exts)

	return func(yield func(Entry, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err == nil && d.IsDir() {
				if path != "." && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			var entry = fsEntry{
				root:    root,
				abspath: filepath.Join(name, path),
				path:    path,
			}
			var yieldErr error
			if err != nil {
				yieldErr = err
			} else {
				if !accept(path) {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					entry.infoErr = err
					yieldErr = err
				} else {
					if !info.Mode().IsRegular() {
						return nil
					}
					entry.info = info
				}
			}

			if !yield(entry, yieldErr) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root, ".", fn)
	}
}

// Files collects the image files under root sorted by path. Unreadable
// entries are joined into the returned error, the readable ones are still
// returned. The entries stay openable until root is closed.
func Files(ctx context.Context, root *os.Root, exts []string) ([]Entry, error) {
	var entries []Entry
	var errs []error
	for entry, err := range Roots(ctx, exts, root) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Path(), b.Path())
	})
	if err := errors.Join(errs...); err != nil {
		return entries, fmt.Errorf("walking %s: %w", root.Name(), err)
	}
	return entries, nil
}

func acceptFunc(exts []string) func(string) bool {
	if len(exts) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[strings.ToLower(e)] = struct{}{}
	}
	return func(path string) bool {
		_, ok := set[strings.ToLower(filepath.Ext(path))]
		return ok
	}
}

// fsEntry implements Entry for a filesystem
// it uses root.Open to open the file
type fsEntry struct {
	root    fs.FS
	abspath string
	path    string
	info    fs.FileInfo
	infoErr error
}

func (e fsEntry) Path() string {
	return e.abspath
}

func (e fsEntry) Open() (io.ReadCloser, error) {
	if e.infoErr != nil {
		return nil, e.infoErr
	}
	return e.root.Open(e.path)
}

func (e fsEntry) Stat() (fs.FileInfo, error) {
	return e.info, e.infoErr
}
