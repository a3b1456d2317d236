package grok

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// Grok is a compiled pattern: a regular expression with named capture
// groups plus the bookkeeping needed to translate those groups back into
// the field paths a caller asked for. A Grok is immutable once returned by
// Compiler.Compile and is safe to share across goroutines.
type Grok struct {
	source          string
	regex           *regexp.Regexp
	aliases         aliasTable
	types           map[string]string
	definitions     map[string]string
	exposeAnonymous bool
}

// Source returns the original template this Grok was compiled from.
func (g *Grok) Source() string { return g.source }

// Regexp returns the underlying compiled regular expression, for callers
// that need e.g. Regexp.String() or to embed it in a larger expression.
func (g *Grok) Regexp() *regexp.Regexp { return g.regex }

// PatternDefinitions returns the snapshot of definitions this Grok was
// compiled against.
func (g *Grok) PatternDefinitions() map[string]string {
	out := make(map[string]string, len(g.definitions))
	for k, v := range g.definitions {
		out[k] = v
	}
	return out
}

// Match is a thin handle around one regexp match against a Grok. A Match
// with no underlying regex match is a valid, empty sentinel — Capture on
// it returns an empty Capture, never an error.
type Match struct {
	grok    *Grok
	input   string
	indices []int // FindSubmatchIndex result, nil if there was no match
}

// Matched reports whether the underlying regex matched at all.
func (m *Match) Matched() bool { return m.indices != nil }

// Match runs the compiled regex against input and returns a handle to the
// result. It never returns an error: a non-matching input is represented
// by Match.Matched() == false: a non-matching input returns an empty
// capture and never raises.
func (g *Grok) Match(input string) *Match {
	return &Match{grok: g, input: input, indices: g.regex.FindStringSubmatchIndex(input)}
}

// MatchString reports whether input matches, without building a Capture.
func (g *Grok) MatchString(input string) bool {
	return g.regex.MatchString(input)
}

// Capture runs Match(input).Capture(), a convenience for the common case.
func (g *Grok) Capture(input string) Capture {
	return g.Match(input).Capture()
}

// Capture is the insertion-ordered mapping of user-visible field path to
// value produced by a successful match. Values are one of: string, int64,
// float64, []interface{} of the preceding, or nil. The zero value is an
// empty, usable Capture.
//
// Capture is deliberately not a bare map: the FIELD grammar lets a caller
// write "%{WORD:order}" or any other name, so ordering bookkeeping cannot
// live under a reserved key inside the value map a caller or a downstream
// JSON encoder sees. It marshals to JSON as a flat object of its fields.
type Capture struct {
	fields map[string]interface{}
	order  []string
}

// Get returns the value captured for field and whether it was present.
func (c Capture) Get(field string) (interface{}, bool) {
	v, ok := c.fields[field]
	return v, ok
}

// Keys returns the capture's field paths in first-appearance order, i.e.
// the order their defining groups appear in the compiled regex.
func (c Capture) Keys() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of captured fields.
func (c Capture) Len() int { return len(c.fields) }

// Fields returns a plain map copy of the capture, for callers (e.g. a
// metrics field extractor) that want ordinary map ergonomics and don't
// care about order.
func (c Capture) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(c.fields))
	for k, v := range c.fields {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the capture as a flat JSON object of its fields,
// with no ordering metadata mixed in.
func (c Capture) MarshalJSON() ([]byte, error) {
	if c.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.fields)
}

// orderedCapture tracks first-appearance order and raw (pre-coercion)
// matched substrings per field while a Capture is being built, before
// coercion freezes it into its final field values.
type orderedCapture struct {
	order  []string
	values map[string][]string
}

// Capture resolves every named group in the match back to its
// user-visible field path, merges duplicate hits for the same field into
// an ordered list, applies declared type coercions, and
// returns the result. A Match with no underlying regex match yields an
// empty Capture.
func (m *Match) Capture() Capture {
	if !m.Matched() {
		return Capture{fields: map[string]interface{}{}}
	}

	names := m.grok.regex.SubexpNames()
	oc := &orderedCapture{values: make(map[string][]string)}

	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		entry, ok := m.grok.aliases[name]
		if !ok {
			continue // not one of our aliases; shouldn't happen, but never fatal
		}
		if entry.Anonymous && !m.grok.exposeAnonymous {
			continue
		}

		left, right := m.indices[2*i], m.indices[2*i+1]
		if left == -1 || right == -1 {
			continue // group did not participate in this match (alternation)
		}

		if _, seen := oc.values[entry.Field]; !seen {
			oc.order = append(oc.order, entry.Field)
		}
		oc.values[entry.Field] = append(oc.values[entry.Field], m.input[left:right])
	}

	fields := make(map[string]interface{}, len(oc.order))
	for _, field := range oc.order {
		raw := oc.values[field]
		typeTag := m.grok.types[field]

		if len(raw) == 1 {
			fields[field] = coerce(raw[0], typeTag)
			continue
		}

		list := make([]interface{}, len(raw))
		for i, v := range raw {
			list[i] = coerce(v, typeTag)
		}
		fields[field] = list
	}

	return Capture{fields: fields, order: append([]string(nil), oc.order...)}
}

// coerce applies lenient type coercion: if the text does not parse as the
// declared type, the original string is returned unchanged — a
// type-coercion failure is never fatal.
func coerce(s, typeTag string) interface{} {
	switch typeTag {
	case "int", "integer":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "float":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
