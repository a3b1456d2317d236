package grok

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/golang/snappy"
)

// cacheKey identifies one compiled template under one set of compiler
// options and one content fingerprint of the currently registered
// definitions.
type cacheKey struct {
	template    string
	renaming    bool
	exposeAnon  bool
	fingerprint string
}

// compileCache is the in-memory, content-addressed cache of already
// compiled templates. Reads take an RWMutex read lock so concurrent
// Compile calls on a warm cache never block each other; only a miss takes
// the write lock.
type compileCache struct {
	mu          sync.RWMutex
	entries     map[cacheKey]*Grok
	persistPath string
}

func newCompileCache() *compileCache {
	return &compileCache{entries: make(map[cacheKey]*Grok)}
}

func (c *compileCache) get(key cacheKey) (*Grok, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.entries[key]
	return g, ok
}

func (c *compileCache) put(key cacheKey, g *Grok) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = g
}

// clear drops every cached entry. Nothing in the package calls it;
// Register and the renaming switch already change the cache key, so a
// changed definition set or option never hits a stale entry.
func (c *compileCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]*Grok)
}

// cacheRecord is the on-disk representation of one compiled template,
// used by the optional persistent cache. It stores the already-expanded
// regex source rather than the original template so a reload never
// re-runs template expansion, only regexp.Compile.
type cacheRecord struct {
	Key         cacheKey
	Source      string
	ExpandedRE  string
	Aliases     aliasTable
	Types       map[string]string
	Definitions map[string]string
}

// load reads a snappy-compressed, gob-encoded cache file written by save
// and installs every stored record under its saved key, recompiling the
// stored regex source (regexp.Compile on an already-valid expression is
// cheap relative to re-running template expansion). A record whose key
// fingerprint no longer matches the compiler's definitions is simply never
// hit. A missing file is not an error.
func (c *compileCache) load(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read persistent compile cache: %w", err)
	}

	decompressed, err := snappy.Decode(nil, raw)
	if err != nil {
		return fmt.Errorf("decompress persistent compile cache: %w", err)
	}

	var records []cacheRecord
	if err := gob.NewDecoder(bytes.NewReader(decompressed)).Decode(&records); err != nil {
		return fmt.Errorf("decode persistent compile cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		re, err := regexp.Compile(rec.ExpandedRE)
		if err != nil {
			continue // a stale/corrupt record is skipped, never fatal to load
		}
		c.entries[rec.Key] = &Grok{
			source:          rec.Source,
			regex:           re,
			aliases:         rec.Aliases,
			types:           rec.Types,
			definitions:     rec.Definitions,
			exposeAnonymous: rec.Key.exposeAnon,
		}
	}
	return nil
}

// save snapshots the current cache contents to path, snappy-compressed.
func (c *compileCache) save(path string) error {
	c.mu.RLock()
	records := make([]cacheRecord, 0, len(c.entries))
	for key, g := range c.entries {
		records = append(records, cacheRecord{
			Key:         key,
			Source:      g.source,
			ExpandedRE:  g.regex.String(),
			Aliases:     g.aliases,
			Types:       g.types,
			Definitions: g.definitions,
		})
	}
	c.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return fmt.Errorf("encode persistent compile cache: %w", err)
	}

	compressed := snappy.Encode(nil, buf.Bytes())
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("write persistent compile cache: %w", err)
	}
	return nil
}
