// Package fs provides the local filesystem object backend.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/storage"
)

const (
	KeyPath            = "path"
	KeyDirPermissions  = "dir_permissions"
	KeyFilePermissions = "file_permissions"
)

const backendName = string(object.KindLocal)

func init() {
	physical.Register(object.KindLocal, NewFactory, Defaults)
}

// Defaults returns the default configuration for the filesystem backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:            "~/.drop/uploads",
		KeyDirPermissions:  "0750",
		KeyFilePermissions: "0640",
	}
}

// NewFactory creates a filesystem backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError(backendName, KeyPath, "cannot be empty")
	}

	dirPerms, err := parseFileMode(config[KeyDirPermissions], 0o750)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue(backendName, KeyDirPermissions, config[KeyDirPermissions], "must be an octal permission string (e.g. 0750)")
	}
	filePerms, err := parseFileMode(config[KeyFilePermissions], 0o640)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue(backendName, KeyFilePermissions, config[KeyFilePermissions], "must be an octal permission string (e.g. 0640)")
	}

	return New(storage.ExpandPath(path), dirPerms, filePerms)
}

// New creates a filesystem backend rooted at root, creating it if needed.
func New(root string, dirPerms, filePerms os.FileMode) (*Backend, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause(backendName, KeyPath, "invalid path", err)
	}
	if err := os.MkdirAll(root, dirPerms); err != nil {
		return nil, storage.NewConfigErrorWithCause(backendName, KeyPath, "failed to create directory", err)
	}

	slog.Info("fs object backend initialized", "path", root, "dir_permissions", fmt.Sprintf("%04o", dirPerms), "file_permissions", fmt.Sprintf("%04o", filePerms))

	return &Backend{root: root, dirPerms: dirPerms, filePerms: filePerms}, nil
}

func parseFileMode(s string, defaultMode os.FileMode) (os.FileMode, error) {
	if s == "" {
		return defaultMode, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return os.FileMode(v), nil
}

// Backend stores objects as plain files under a root directory, fanned out
// into two-character subdirectories.
type Backend struct {
	root      string
	dirPerms  os.FileMode
	filePerms os.FileMode
	closed    atomic.Bool
}

func (b *Backend) Kind() object.Kind { return object.KindLocal }

// Root returns the absolute root directory.
func (b *Backend) Root() string { return b.root }

func relPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("fs: invalid key %q", key)
	}
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	if strings.HasPrefix(shard, ".") {
		shard = "_" + shard[1:]
	}
	return shard + "/" + key, nil
}

// abs resolves a location path and rejects anything outside the root.
func (b *Backend) abs(rel string) (string, error) {
	joined := filepath.Join(b.root, filepath.Clean(filepath.FromSlash(rel)))
	r, err := filepath.Rel(b.root, joined)
	if err != nil || r == "." || strings.HasPrefix(r, "..") {
		return "", fmt.Errorf("fs: path %q escapes storage root", rel)
	}
	return joined, nil
}

func (b *Backend) pathOf(loc object.Location) (string, error) {
	l, ok := loc.(object.Local)
	if !ok {
		return "", fmt.Errorf("fs: cannot handle %s location", loc.Kind())
	}
	return b.abs(l.Path)
}

// Store streams r to a temp file and renames it into place.
func (b *Backend) Store(ctx context.Context, key string, r io.Reader, _ physical.Meta) (object.Location, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	rel, err := relPath(key)
	if err != nil {
		return nil, err
	}
	path, err := b.abs(rel)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, b.dirPerms); err != nil {
		return nil, fmt.Errorf("fs store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("fs store: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (object.Location, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("fs store: %w", err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("fs store: %w", err)
	}
	if err := os.Chmod(tmpName, b.filePerms); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("fs store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("fs store: %w", err)
	}

	return object.Local{Path: rel}, nil
}

// Retrieve opens the file at loc.
func (b *Backend) Retrieve(_ context.Context, loc object.Location) (io.ReadCloser, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	path, err := b.pathOf(loc)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, physical.ErrNotFound
		}
		return nil, fmt.Errorf("fs retrieve: %w", err)
	}
	return f, nil
}

// Delete removes the file at loc.
func (b *Backend) Delete(_ context.Context, loc object.Location) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	path, err := b.pathOf(loc)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fs delete: %w", err)
	}
	return nil
}

// Usage walks the root and returns the total size of stored files.
func (b *Backend) Usage(_ context.Context) (int64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}

	var total int64
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fs usage: %w", err)
	}
	return total, nil
}

// Close marks the backend as closed.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}
