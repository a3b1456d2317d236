// Package grok compiles Grok templates ("%{IP:client}:%{POSINT:port}") into
// named-capture-group regular expressions and matches lines against the
// result, the way Logstash's grok filter and its many Go ports do. The
// expression is not anchored: a match may cover only part of a line. The heavy lifting — recursive template expansion, cycle detection,
// alias bookkeeping, and typed capture — lives in this package; the
// `catalog` subpackage owns loading and caching the bundled pattern files
// that back %{NAME} references.
package grok

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grokworks/grok/catalog"
	"github.com/grokworks/grok/internal/logging"
	"github.com/grokworks/grok/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Compiler holds a caller's registered pattern definitions and turns
// templates into compiled Grok values. A zero Compiler is not usable; use
// NewCompiler. A Compiler's definitions may be freely mutated with
// Register* between calls to Compile, but a Grok returned by Compile
// snapshots what it needs and never observes later mutation.
type Compiler struct {
	mu          sync.RWMutex
	definitions map[string]string

	reservedRenaming      bool
	exposeAnonymousCaptures bool

	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer

	cache *compileCache
}

// CompilerOption configures a Compiler at construction time.
type CompilerOption func(*Compiler)

// WithReservedKeywordRenaming toggles reserved-keyword renaming (a field
// named exactly like a reserved output key, e.g. "timestamp", is renamed
// to its "log_" form; see reservedRenames). Default: enabled.
func WithReservedKeywordRenaming(enabled bool) CompilerOption {
	return func(c *Compiler) { c.reservedRenaming = enabled }
}

// WithExposeAnonymousCaptures toggles whether bare "%{NAME}" references
// (no explicit field) surface in the public capture map. Default: disabled,
// the conservative choice.
func WithExposeAnonymousCaptures(enabled bool) CompilerOption {
	return func(c *Compiler) { c.exposeAnonymousCaptures = enabled }
}

// WithLogger attaches a logger used for non-fatal diagnostics (duplicate
// pattern names, expansion tracing).
func WithLogger(l *logging.Logger) CompilerOption {
	return func(c *Compiler) { c.logger = l }
}

// WithMetrics attaches a metrics collector recording cache hits/misses and
// compile durations.
func WithMetrics(m *metrics.Collector) CompilerOption {
	return func(c *Compiler) { c.metrics = m }
}

// WithTracer attaches an OpenTelemetry tracer that wraps each Compile call
// that misses the compile cache in a span; Match is not traced. The zero value (no call to WithTracer) keeps Compiler
// trace-free, matching tracing.Provider's no-op fallback.
func WithTracer(t trace.Tracer) CompilerOption {
	return func(c *Compiler) { c.tracer = t }
}

// WithPersistentCache loads a previously-saved, snappy-compressed compile
// cache from path (if present) and arranges for Close to save it back.
func WithPersistentCache(path string) CompilerOption {
	return func(c *Compiler) { c.cache.persistPath = path }
}

// NewCompiler returns an empty Compiler. Callers typically follow up with
// RegisterDefaultPatterns or RegisterAllPatterns before compiling templates.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		definitions:      make(map[string]string),
		reservedRenaming: true,
		logger:           logging.Global(),
		cache:            newCompileCache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache.persistPath != "" {
		if err := c.cache.load(c.cache.persistPath); err != nil {
			c.logger.WithComponent("compiler").Warn().Err(err).Msg("failed to load persistent compile cache")
		}
	}
	return c
}

// Register adds or replaces a single pattern definition. Last write wins.
func (c *Compiler) Register(name, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.definitions[name] = body
}

// RegisterReader parses a pattern-definition file from r and registers
// every definition it contains, under the logical name `source` (used
// only for diagnostics).
func (c *Compiler) RegisterReader(source string, r io.Reader) error {
	defs, err := catalog.ParseFile(source, r, c.logger)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, body := range defs {
		c.definitions[name] = body
	}
	return nil
}

// RegisterPatterns loads and registers every definition in a single named
// catalog file via repo.
func (c *Compiler) RegisterPatterns(repo *catalog.Repository, name string) error {
	defs, err := repo.LoadPatterns(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for n, body := range defs {
		c.definitions[n] = body
	}
	return nil
}

// RegisterDefaultPatterns loads the base "patterns" catalog file.
func (c *Compiler) RegisterDefaultPatterns(repo *catalog.Repository) error {
	return c.RegisterPatterns(repo, catalog.BasePatterns)
}

// RegisterAllPatterns loads every catalog file known to repo.
func (c *Compiler) RegisterAllPatterns(repo *catalog.Repository) error {
	for _, pt := range repo.AllPatternTypes() {
		if err := c.RegisterPatterns(repo, pt.FileName); err != nil {
			return err
		}
	}
	return nil
}

// SetReservedKeywordRenaming toggles reserved-keyword renaming after
// construction.
func (c *Compiler) SetReservedKeywordRenaming(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservedRenaming = enabled
}

// PatternDefinitions returns a snapshot of the currently registered
// definitions.
func (c *Compiler) PatternDefinitions() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.definitions))
	for k, v := range c.definitions {
		out[k] = v
	}
	return out
}

// Close flushes the persistent compile cache (if configured) to disk.
func (c *Compiler) Close() error {
	if c.cache.persistPath == "" {
		return nil
	}
	return c.cache.save(c.cache.persistPath)
}

// expansionState carries the per-Compile mutable bookkeeping through the
// recursive descent: an explicit visiting stack that replaces
// language-level recursion for cycle detection, a monotonically
// increasing alias counter, and the alias table being built up.
type expansionState struct {
	defs      map[string]string
	renaming  bool
	visiting  []string
	counter   int
	aliases   aliasTable
	types     map[string]string
}

// Compile expands template into a Grok. Equal templates compiled under
// the same options against the same definitions produce behaviorally
// indistinguishable Grok values; the compile cache is what makes repeated
// calls cheap, not just correct.
func (c *Compiler) Compile(template string) (*Grok, error) {
	c.mu.RLock()
	defsSnapshot := make(map[string]string, len(c.definitions))
	for k, v := range c.definitions {
		defsSnapshot[k] = v
	}
	renaming := c.reservedRenaming
	exposeAnon := c.exposeAnonymousCaptures
	c.mu.RUnlock()

	fp := fingerprint(defsSnapshot)
	key := cacheKey{template: template, renaming: renaming, exposeAnon: exposeAnon, fingerprint: fp}

	if g, ok := c.cache.get(key); ok {
		if c.metrics != nil {
			c.metrics.CompileCacheHits.Inc()
		}
		return g, nil
	}
	if c.metrics != nil {
		c.metrics.CompileCacheMisses.Inc()
	}

	if c.tracer != nil {
		_, span := c.tracer.Start(context.Background(), "grok.Compile", trace.WithAttributes(attribute.String("grok.template", template)))
		defer span.End()
	}

	start := time.Now()
	if c.metrics != nil {
		defer func() { c.metrics.CompileDuration.Observe(time.Since(start).Seconds()) }()
	}

	state := &expansionState{
		defs:     defsSnapshot,
		renaming: renaming,
		aliases:  aliasTable{},
		types:    map[string]string{},
	}

	expanded, err := expand(template, template, state)
	if err != nil {
		if c.logger != nil {
			c.logger.WithComponent("compiler").Debug().Str("template", template).Err(err).Msg("expansion failed")
		}
		return nil, err
	}

	re, err := regexp.Compile(expanded)
	if err != nil {
		return nil, regexCompileErr(template, expanded, err)
	}

	g := &Grok{
		source:          template,
		regex:           re,
		aliases:         state.aliases,
		types:           state.types,
		definitions:     defsSnapshot,
		exposeAnonymous: exposeAnon,
	}

	c.cache.put(key, g)
	return g, nil
}

// expand recursively expands all top-level references in body, returning
// the fragment with every reference replaced by a named capture group.
// rootTemplate is threaded through purely for error diagnostics.
func expand(body, rootTemplate string, state *expansionState) (string, error) {
	var out strings.Builder
	pos := 0
	for {
		ref, found, err := nextReference(body, pos)
		if err != nil {
			return "", reWithTemplate(err, rootTemplate)
		}
		if !found {
			out.WriteString(body[pos:])
			break
		}
		out.WriteString(body[pos:ref.start])

		def, ok := state.defs[ref.name]
		if !ok {
			return "", unknownPatternErr(rootTemplate, ref.name)
		}

		for _, visiting := range state.visiting {
			if visiting == ref.name {
				cycle := append(append([]string{}, state.visiting...), ref.name)
				return "", recursionErr(rootTemplate, cycle)
			}
		}

		state.visiting = append(state.visiting, ref.name)
		innerExpanded, err := expand(def, rootTemplate, state)
		state.visiting = state.visiting[:len(state.visiting)-1]
		if err != nil {
			return "", err
		}

		state.counter++
		alias := freshAlias(ref.name, state.counter)

		field := ref.field
		anonymous := field == ""
		if anonymous {
			field = ref.name
		}
		field = applyReservedRenaming(field, state.renaming)

		state.aliases[alias] = aliasEntry{Field: field, Type: ref.typeTag, Anonymous: anonymous}
		if ref.typeTag != "" {
			if _, seen := state.types[field]; !seen {
				state.types[field] = ref.typeTag
			}
		}

		fmt.Fprintf(&out, "(?P<%s>%s)", alias, innerExpanded)
		pos = ref.end
	}
	return out.String(), nil
}

func reWithTemplate(err error, template string) error {
	if ce, ok := err.(*CompileError); ok && ce.Template == "" {
		ce.Template = template
	}
	return err
}

// freshAlias builds a short, regex-legal, unique internal capture-group
// name derived from the referenced pattern name ("name<counter>").
func freshAlias(name string, counter int) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('a')
			}
			b.WriteRune(r)
		// underscores and anything else are dropped: group names must be
		// [A-Za-z][A-Za-z0-9]* to stay unambiguous across regex engines.
		}
	}
	if b.Len() == 0 {
		b.WriteString("g")
	}
	b.WriteString(strconv.Itoa(counter))
	return b.String()
}

// fingerprint produces a stable content hash over a definition set so the
// compile cache can detect when Register has changed what a template would
// expand to.
func fingerprint(defs map[string]string) string {
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
		h.Write([]byte(defs[n]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
