package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DirSource reads pattern files from a plain directory on disk, the way an
// operator would drop custom `.grok` pattern files alongside the bundled
// catalog. It optionally watches the directory with fsnotify and reports
// each written or created file to a caller-supplied callback (see Watch).
type DirSource struct {
	dir string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onChange func(name string)
}

// NewDirSource returns a Source backed by the files directly inside dir
// (no recursion into subdirectories).
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *DirSource) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing %s: %w", s.dir, err)
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

// Watch starts an fsnotify watcher on the source directory and invokes
// onChange with the affected file's base name whenever it is written or
// created. Watch is a no-op if a watcher is already running. The caller is
// responsible for wiring onChange to a Repository.ClearCache (or a more
// surgical per-file invalidation) and for calling Close when done.
func (s *DirSource) Watch(onChange func(name string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: starting directory watch on %s: %w", s.dir, err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("catalog: watching %s: %w", s.dir, err)
	}

	s.watcher = w
	s.onChange = onChange
	go s.watchLoop(w)
	return nil
}

func (s *DirSource) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if s.onChange != nil {
				s.onChange(filepath.Base(event.Name))
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the directory watcher, if one was started.
func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
