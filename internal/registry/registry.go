// Package registry maintains the append-only table that maps application
// paths to the dense ids stored in focus records.
//
// The backing file holds one path per line; the line number (ignoring empty
// lines) is the id. Ids are assigned in first-seen order and never change.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"focusd/internal/record"
)

// FileName is the registry file inside a data directory.
const FileName = "app.txt"

// Errors
var (
	ErrNotFound    = errors.New("registry: app id not found")
	ErrInvalidPath = errors.New("registry: invalid app path")
	ErrReadOnly    = errors.New("registry: registry is read-only")
	ErrClosed      = errors.New("registry: registry is closed")
)

// App is one registry entry.
type App struct {
	ID   record.AppID `json:"id" yaml:"id"`
	Path string       `json:"path" yaml:"path"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	file     *os.File
	ids      map[string]record.AppID
	paths    []string
	readOnly bool
	closed   bool
}

// Open loads the registry at path, creating the file if needed.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open registry file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	// Terminate a torn last line so the next append starts its own entry.
	if len(data) > 0 && data[len(data)-1] != '\n' {
		if _, err := file.Write([]byte{'\n'}); err != nil {
			file.Close()
			return nil, fmt.Errorf("terminate registry file: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("sync registry file: %w", err)
		}
	}

	r := newRegistry(data)
	r.file = file
	return r, nil
}

// OpenReadOnly loads a snapshot of the registry at path. A missing file
// yields an empty registry.
func OpenReadOnly(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	r := newRegistry(data)
	r.readOnly = true
	return r, nil
}

func newRegistry(data []byte) *Registry {
	r := &Registry{ids: make(map[string]record.AppID)}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		p := strings.TrimSuffix(string(line), "\r")
		if p == "" {
			continue
		}
		if _, dup := r.ids[p]; dup {
			// A duplicate line still consumes an id so later ids stay stable.
			r.paths = append(r.paths, p)
			continue
		}
		r.ids[p] = record.AppID(len(r.paths))
		r.paths = append(r.paths, p)
	}
	return r
}

// IDByPath returns the id for path, appending path to the registry file
// first if it has not been seen before.
func (r *Registry) IDByPath(path string) (record.AppID, error) {
	if path == "" || strings.ContainsAny(path, "\r\n") {
		return 0, ErrInvalidPath
	}

	r.mu.RLock()
	id, ok := r.ids[path]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.ids[path]; ok {
		return id, nil
	}
	if r.closed {
		return 0, ErrClosed
	}
	if r.readOnly {
		return 0, ErrReadOnly
	}

	if _, err := r.file.WriteString(path + "\n"); err != nil {
		return 0, fmt.Errorf("append registry entry: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		return 0, fmt.Errorf("sync registry file: %w", err)
	}

	id = record.AppID(len(r.paths))
	r.ids[path] = id
	r.paths = append(r.paths, path)
	return id, nil
}

// PathByID returns the path registered under id.
func (r *Registry) PathByID(id record.AppID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(id) >= len(r.paths) {
		return "", fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return r.paths[id], nil
}

// Apps returns every entry in id order.
func (r *Registry) Apps() []App {
	r.mu.RLock()
	defer r.mu.RUnlock()

	apps := make([]App, len(r.paths))
	for i, p := range r.paths {
		apps[i] = App{ID: record.AppID(i), Path: p}
	}
	return apps
}

// Len returns the number of registered paths.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.paths)
}

// Close releases the registry file.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
