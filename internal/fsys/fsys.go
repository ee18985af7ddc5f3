// Package fsys resolves model paths and reads and writes whole files on a
// hackpadfs file system.
package fsys

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"

	"github.com/Faultbox/g2tools/pkg/encoding"
)

// File system errors.
var (
	ErrNotFound = errors.New("file not found")
	ErrTooLarge = errors.New("file too large")
	ErrBadPath  = errors.New("invalid path")
)

// FS implements path resolution and byte I/O. Paths handed to and
// returned from an OS-backed FS are host paths; a FS built with New uses
// slash-separated paths inside the given file system.
type FS struct {
	fsys    hackpadfs.FS
	host    bool
	maxSize int64
}

// NewOS returns a FS over the host file system. maxSize caps reads; 0
// disables the cap.
func NewOS(maxSize int64) *FS {
	return &FS{fsys: osfs.NewFS(), host: true, maxSize: maxSize}
}

// New returns a FS over fsys, typically a mem.FS in tests.
func New(fsys hackpadfs.FS, maxSize int64) *FS {
	return &FS{fsys: fsys, maxSize: maxSize}
}

// name converts a caller path to a hackpadfs name.
func (f *FS) name(p string) (string, error) {
	if f.host {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBadPath, p, err)
		}
		p = abs
	}
	n := strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "/")
	if n == "" {
		n = "."
	}
	if !fs.ValidPath(n) {
		return "", fmt.Errorf("%w: %s", ErrBadPath, p)
	}
	return n, nil
}

// display converts a hackpadfs name back to a caller path.
func (f *FS) display(n string) string {
	if f.host {
		return filepath.FromSlash("/" + n)
	}
	return n
}

// AbsPath joins rel onto base unless rel is already absolute. Backslashes
// in game paths are treated as separators.
func (f *FS) AbsPath(rel, base string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if f.host {
		rel = filepath.FromSlash(rel)
		if filepath.IsAbs(rel) {
			return filepath.Clean(rel)
		}
		return filepath.Join(base, rel)
	}
	if path.IsAbs(rel) {
		return path.Clean(rel)
	}
	return path.Join(filepath.ToSlash(base), rel)
}

// FindFile looks for rel under base, trying rel as given when it already
// carries one of exts and rel plus each extension otherwise. Files whose
// name differs only in case are found too.
func (f *FS) FindFile(rel, base string, exts []string) (string, bool) {
	p := f.AbsPath(rel, base)

	var candidates []string
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filepath.ToSlash(p))), ".")
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			candidates = append(candidates, p)
			break
		}
	}
	for _, e := range exts {
		candidates = append(candidates, p+"."+e)
	}

	for _, c := range candidates {
		n, err := f.name(c)
		if err != nil {
			continue
		}
		if info, err := hackpadfs.Stat(f.fsys, n); err == nil && !info.IsDir() {
			return f.display(n), true
		}
	}
	for _, c := range candidates {
		n, err := f.name(c)
		if err != nil {
			continue
		}
		if found, ok := f.foldLookup(n); ok {
			return f.display(found), true
		}
	}
	return "", false
}

// foldLookup resolves n one component at a time, matching names
// case-insensitively.
func (f *FS) foldLookup(n string) (string, bool) {
	dir := "."
	for _, part := range strings.Split(n, "/") {
		entries, err := hackpadfs.ReadDir(f.fsys, dir)
		if err != nil {
			return "", false
		}
		want := encoding.NormalizePath(part)
		match := ""
		for _, e := range entries {
			if encoding.NormalizePath(e.Name()) == want {
				match = e.Name()
				break
			}
		}
		if match == "" {
			return "", false
		}
		dir = path.Join(dir, match)
	}
	info, err := hackpadfs.Stat(f.fsys, dir)
	if err != nil || info.IsDir() {
		return "", false
	}
	return dir, true
}

// ReadAllBytes reads a whole file, refusing files above the size cap
// before reading them.
func (f *FS) ReadAllBytes(p string) ([]byte, error) {
	n, err := f.name(p)
	if err != nil {
		return nil, err
	}
	info, err := hackpadfs.Stat(f.fsys, n)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, p)
	}
	if f.maxSize > 0 && info.Size() > f.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, p, info.Size(), f.maxSize)
	}
	data, err := fs.ReadFile(f.fsys, n)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

// WriteAllBytes writes data to a temporary file next to p and renames it
// into place, so readers never see a partial file.
func (f *FS) WriteAllBytes(p string, data []byte) (err error) {
	n, err := f.name(p)
	if err != nil {
		return err
	}
	dir := path.Dir(n)
	if err := hackpadfs.MkdirAll(f.fsys, dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", f.display(dir), err)
	}

	tmp := path.Join(dir, "."+path.Base(n)+".tmp"+strconv.FormatUint(rand.Uint64(), 36))
	file, err := hackpadfs.OpenFile(f.fsys, tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", p, err)
	}
	defer func() {
		if err != nil {
			_ = hackpadfs.Remove(f.fsys, tmp)
		}
	}()

	w, ok := file.(io.Writer)
	if !ok {
		file.Close()
		return fmt.Errorf("writing %s: %w", p, hackpadfs.ErrNotImplemented)
	}
	if _, err := w.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if err := hackpadfs.SyncFile(file); err != nil && !errors.Is(err, hackpadfs.ErrNotImplemented) {
		file.Close()
		return fmt.Errorf("syncing %s: %w", p, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", p, err)
	}
	if err := hackpadfs.Rename(f.fsys, tmp, n); err != nil {
		return fmt.Errorf("renaming into %s: %w", p, err)
	}
	return nil
}

// Exists reports whether p names an existing file or directory.
func (f *FS) Exists(p string) bool {
	n, err := f.name(p)
	if err != nil {
		return false
	}
	_, err = hackpadfs.Stat(f.fsys, n)
	return err == nil
}
