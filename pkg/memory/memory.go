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

// Package memory provides an in-memory implementation of the volume interface.
// This is useful for testing, development, and scenarios where persistence is not required.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

// file represents a stored file with its data and modification time.
type file struct {
	data    []byte
	modTime time.Time
}

// Memory is a volume that stores files in memory.
type Memory struct {
	mu    sync.RWMutex
	files map[string]*file
	now   func() time.Time

	puts   int
	copies int
}

// New creates a new Memory volume.
func New() *Memory {
	return &Memory{
		files: make(map[string]*file),
		now:   time.Now,
	}
}

// Configure sets up the backend with the necessary settings.
// The memory backend has no required settings.
func (m *Memory) Configure(settings map[string]string) error {
	return nil
}

// SetClock overrides the clock used to stamp modification times.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetModTime overrides the modification time of an existing file.
func (m *Memory) SetModTime(path string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrKeyNotFound, path)
	}
	f.modTime = t
	return nil
}

// Stats returns the number of Put and Copy calls served.
func (m *Memory) Stats() (puts, copies int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts, m.copies
}

// Exists reports whether a file exists at path.
func (m *Memory) Exists(ctx context.Context, path string) (bool, error) {
	if err := common.ValidatePath(path); err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	m.mu.RLock()
	_, ok := m.files[path]
	m.mu.RUnlock()
	return ok, nil
}

// Put stores the contents of data at path.
func (m *Memory) Put(ctx context.Context, path string, data io.Reader) error {
	if err := common.ValidatePath(path); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dataBytes, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.files[path] = &file{data: dataBytes, modTime: m.now()}
	m.puts++
	m.mu.Unlock()

	return nil
}

// Get retrieves a copy of the file at path.
func (m *Memory) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := common.ValidatePath(path); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	f, ok := m.files[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, path)
	}

	dataCopy := make([]byte, len(f.data))
	copy(dataCopy, f.data)
	return io.NopCloser(bytes.NewReader(dataCopy)), nil
}

// Delete removes the file at path.
func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := common.ValidatePath(path); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("%w: %s", common.ErrKeyNotFound, path)
	}
	delete(m.files, path)
	return nil
}

// Copy duplicates the file at from to to.
func (m *Memory) Copy(ctx context.Context, from, to string) error {
	if err := common.ValidatePath(from); err != nil {
		return err
	}
	if err := common.ValidatePath(to); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.files[from]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrKeyNotFound, from)
	}
	dataCopy := make([]byte, len(src.data))
	copy(dataCopy, src.data)
	m.files[to] = &file{data: dataCopy, modTime: m.now()}
	m.copies++
	return nil
}

// LastModified returns the modification time of the file at path.
func (m *Memory) LastModified(ctx context.Context, path string) (time.Time, error) {
	if err := common.ValidatePath(path); err != nil {
		return time.Time{}, err
	}

	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", common.ErrKeyNotFound, path)
	}
	return f.modTime, nil
}

// List returns the sorted paths that start with prefix.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
