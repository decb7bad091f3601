/*
Package fetchers provides file access for local manifest trees.

Goals:
  - Reading and writing manifest files behind a narrow interface
  - An in-memory implementation for tests and custom manifest sources
*/
package fetchers

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
)

var (
	ErrFileNotFound = errors.New("manifest file not found")
)

// FileFetcher reads file contents by path.
type FileFetcher interface {
	FileContent(ctx context.Context, path string) ([]byte, error)
}

// FileWriter persists file contents by path.
type FileWriter interface {
	WriteFile(ctx context.Context, path string, data []byte) error
}

// Globber expands a glob pattern into matching paths.
type Globber interface {
	Glob(ctx context.Context, pattern string) ([]string, error)
}

// FileStore combines everything manifest loading and writing needs.
type FileStore interface {
	FileFetcher
	FileWriter
	Globber
}

// OSStore reads and writes files on the local filesystem.
type OSStore struct{}

// FileContent reads one file, mapping a missing file to ErrFileNotFound.
func (OSStore) FileContent(ctx context.Context, p string) ([]byte, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return b, nil
}

// WriteFile replaces one file's contents.
func (OSStore) WriteFile(ctx context.Context, p string, data []byte) error {
	return os.WriteFile(p, data, 0o644)
}

// Glob expands a filesystem glob pattern. Matches are sorted.
func (OSStore) Glob(ctx context.Context, pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

// ByteMapStore stores file contents in memory (usefull for debugging/testing
// or for building custom manifest sources). The Files map must be initialized
// by the caller.
type ByteMapStore struct {
	Files map[string][]byte
}

// FileContent retrieves (if found) []byte contents from its map using the
// path argument as a key.
func (s ByteMapStore) FileContent(ctx context.Context, p string) ([]byte, error) {
	v, ok := s.Files[p]
	if !ok {
		return nil, ErrFileNotFound
	}
	return v, nil
}

// WriteFile stores contents under the path key.
func (s ByteMapStore) WriteFile(ctx context.Context, p string, data []byte) error {
	if s.Files == nil {
		return errors.New("byte map store is not initialized")
	}
	s.Files[p] = data
	return nil
}

// Glob matches the pattern against every stored key. Matches are sorted so
// expansion order is deterministic, mirroring filepath.Glob.
func (s ByteMapStore) Glob(ctx context.Context, pattern string) ([]string, error) {
	var matches []string
	for k := range s.Files {
		ok, err := path.Match(filepath.ToSlash(pattern), filepath.ToSlash(k))
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, k)
		}
	}
	sort.Strings(matches)
	return matches, nil
}
