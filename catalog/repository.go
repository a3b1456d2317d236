package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grokworks/grok/internal/logging"
)

// RepositoryStats summarizes one loaded pattern file: its name and how
// many definitions it contains.
type RepositoryStats struct {
	FileName        string
	DefinitionCount int
}

// Repository lazily loads, caches, categorizes, and searches pattern files
// from a Source. A zero Repository is not usable; use NewRepository. A
// Repository is safe for concurrent use: reads never block each other, and
// concurrent first-loads of the same file race harmlessly to populate the
// same cache entry (first-write-wins).
type Repository struct {
	source Source
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]map[string]string
}

// RepositoryOption configures a Repository at construction time.
type RepositoryOption func(*Repository)

// WithSource overrides the backing Source. Default: NewEmbeddedSource().
func WithSource(s Source) RepositoryOption {
	return func(r *Repository) { r.source = s }
}

// WithLogger overrides the logger used for diagnostics such as duplicate
// pattern-name warnings. Default: logging.Global().
func WithLogger(l *logging.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = l }
}

// NewRepository returns a Repository backed by the bundled embedded
// catalog unless overridden with WithSource.
func NewRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		source: NewEmbeddedSource(),
		logger: logging.Global(),
		cache:  make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultRepo     *Repository
	defaultRepoOnce sync.Once
)

// Default returns the process-wide Repository backed by the bundled
// catalog, constructing it on first use. Callers that don't need a custom
// source can share this one instance.
func Default() *Repository {
	defaultRepoOnce.Do(func() { defaultRepo = NewRepository() })
	return defaultRepo
}

// LoadPatterns returns the definitions in catalog file `name`, loading and
// caching it on first request.
func (r *Repository) LoadPatterns(name string) (map[string]string, error) {
	r.mu.RLock()
	defs, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return defs, nil
	}

	f, err := r.source.Open(name)
	if err != nil {
		return nil, fmt.Errorf("catalog: loading %q: %w", name, err)
	}
	defer f.Close()

	parsed, err := ParseFile(name, f, r.logger)
	if err != nil {
		return nil, err // no partial caching of a failed load
	}

	r.mu.Lock()
	if existing, ok := r.cache[name]; ok {
		// Another goroutine won the race; keep its result (first-write-wins).
		r.mu.Unlock()
		return existing, nil
	}
	r.cache[name] = parsed
	r.mu.Unlock()

	return parsed, nil
}

// Find returns every catalog file name that defines pattern, loading every
// known file as needed.
func (r *Repository) Find(pattern string) ([]string, error) {
	var hits []string
	for _, pt := range r.AllPatternTypes() {
		defs, err := r.LoadPatterns(pt.FileName)
		if err != nil {
			return nil, err
		}
		if _, ok := defs[pattern]; ok {
			hits = append(hits, pt.FileName)
		}
	}
	sort.Strings(hits)
	return hits, nil
}

// AllPatternTypes returns the registry of pattern types this repository
// knows about, independent of whether each has been loaded yet.
func (r *Repository) AllPatternTypes() []PatternType {
	out := make([]PatternType, len(knownPatternTypes))
	copy(out, knownPatternTypes)
	return out
}

// GetPatternTypesByCategory groups the known pattern types by their
// declared category.
func (r *Repository) GetPatternTypesByCategory() map[string][]PatternType {
	out := make(map[string][]PatternType)
	for _, pt := range knownPatternTypes {
		out[pt.Category] = append(out[pt.Category], pt)
	}
	return out
}

// GetPatternStatistics loads every known pattern file and returns a
// per-type definition count.
func (r *Repository) GetPatternStatistics() ([]RepositoryStats, error) {
	stats := make([]RepositoryStats, 0, len(knownPatternTypes))
	for _, pt := range knownPatternTypes {
		defs, err := r.LoadPatterns(pt.FileName)
		if err != nil {
			return nil, err
		}
		stats = append(stats, RepositoryStats{FileName: pt.FileName, DefinitionCount: len(defs)})
	}
	return stats, nil
}

// IsPatternFileAvailable reports whether the backing source currently
// exposes name, without loading or caching it.
func (r *Repository) IsPatternFileAvailable(name string) bool {
	f, err := r.source.Open(name)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// ClearCache drops every cached pattern map.
func (r *Repository) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]map[string]string)
}
