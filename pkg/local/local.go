// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

// Local is a volume that stores files on the local disk.
type Local struct {
	path   string
	logger adapters.Logger
}

// New creates a new Local volume.
func New() *Local {
	return &Local{logger: adapters.NewNoOpLogger()}
}

// Configure sets up the backend with the necessary settings.
// Settings:
//   - path: The directory path for local storage (required)
func (l *Local) Configure(settings map[string]string) error {
	l.path = settings["path"]
	if l.path == "" {
		return common.ErrPathNotSet
	}

	if err := os.MkdirAll(l.path, 0750); err != nil {
		return err
	}
	if l.logger == nil {
		l.logger = adapters.NewNoOpLogger()
	}
	return nil
}

// SetLogger sets the logger used for write and delete operations.
func (l *Local) SetLogger(logger adapters.Logger) {
	l.logger = logger
}

// Root returns the base directory of the volume.
func (l *Local) Root() string {
	return l.path
}

// resolve validates a volume path and joins it to the root.
func (l *Local) resolve(path string) (string, error) {
	if l.path == "" {
		return "", common.ErrNotConfigured
	}
	if err := common.ValidatePath(path); err != nil {
		return "", err
	}
	return filepath.Join(l.path, filepath.FromSlash(path)), nil
}

func notFound(err error, path string) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", common.ErrKeyNotFound, path)
	}
	return err
}

// Exists reports whether a file exists at path.
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	full, err := l.resolve(path)
	if err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	info, err := os.Stat(full)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Put writes data to path. The file is written to a sibling temp file and
// renamed into place so readers never observe a partial file.
func (l *Local) Put(ctx context.Context, path string, data io.Reader) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	size, err := io.Copy(tmp, data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		l.logger.Error(ctx, "failed to write file",
			adapters.Field{Key: "path", Value: path}, adapters.ErrField(err))
		return err
	}

	if err := os.Rename(tmpName, full); err != nil {
		return err
	}

	l.logger.Debug(ctx, "file written",
		adapters.Field{Key: "path", Value: path},
		adapters.Field{Key: "size", Value: formatBytes(size)})
	return nil
}

// Get opens the file at path for reading.
func (l *Local) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f, err := os.Open(full) // #nosec G304 -- Path validated by resolve() to prevent directory traversal
	if err != nil {
		return nil, notFound(err, path)
	}
	return f, nil
}

// Delete removes the file at path.
func (l *Local) Delete(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(full); err != nil {
		return notFound(err, path)
	}
	l.logger.Debug(ctx, "file deleted", adapters.Field{Key: "path", Value: path})
	return nil
}

// Copy duplicates the file at from to to.
func (l *Local) Copy(ctx context.Context, from, to string) error {
	src, err := l.Get(ctx, from)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	return l.Put(ctx, to, src)
}

// LastModified returns the modification time of the file at path.
func (l *Local) LastModified(ctx context.Context, path string) (time.Time, error) {
	full, err := l.resolve(path)
	if err != nil {
		return time.Time{}, err
	}

	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	default:
	}

	info, err := os.Stat(full)
	if err != nil {
		return time.Time{}, notFound(err, path)
	}
	return info.ModTime(), nil
}

// List returns the sorted slash-separated paths that start with prefix.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	if l.path == "" {
		return nil, common.ErrNotConfigured
	}

	var paths []string
	err := filepath.Walk(l.path, func(p string, info os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			// Files removed mid-walk are expected.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".put-") {
			return nil
		}

		rel, err := filepath.Rel(l.path, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

// formatBytes formats a byte count as a human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
