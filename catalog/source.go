package catalog

import (
	"embed"
	"errors"
	"io"
	"io/fs"
	"sort"
)

// Source is the abstract pattern-file backend: open a named file as a byte
// stream, or list every name known to the backend.
// Implementations must tolerate unusual names verbatim, including the
// bundled "junos " catalog file whose name carries a trailing space.
type Source interface {
	Open(name string) (io.ReadCloser, error)
	List() ([]string, error)
}

//go:embed patterns
var bundledPatterns embed.FS

const bundledPatternsDir = "patterns"

// EmbeddedSource serves the pattern files compiled into the binary via
// go:embed. It is stateless and safe for concurrent use; construct with
// NewEmbeddedSource.
type EmbeddedSource struct {
	fsys fs.FS
	dir  string
}

// NewEmbeddedSource returns a Source backed by the catalog bundled with
// this module.
func NewEmbeddedSource() *EmbeddedSource {
	return &EmbeddedSource{fsys: bundledPatterns, dir: bundledPatternsDir}
}

func (s *EmbeddedSource) Open(name string) (io.ReadCloser, error) {
	f, err := s.fsys.Open(s.dir + "/" + name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *EmbeddedSource) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
