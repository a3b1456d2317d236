package grok

import (
	"fmt"
	"strings"
)

// ErrorKind identifies the category of a compile-time failure.
type ErrorKind int

const (
	// KindUnknownPattern: a reference named a pattern that was never registered.
	KindUnknownPattern ErrorKind = iota
	// KindRecursionDetected: expanding a reference would revisit a name
	// already on the visiting stack.
	KindRecursionDetected
	// KindSyntaxError: a malformed "%{...}" reference or an unsupported type tag.
	KindSyntaxError
	// KindRegexCompile: the backing regexp engine rejected the assembled expression.
	KindRegexCompile
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnknownPattern:
		return "UnknownPattern"
	case KindRecursionDetected:
		return "RecursionDetected"
	case KindSyntaxError:
		return "SyntaxError"
	case KindRegexCompile:
		return "RegexCompile"
	default:
		return "Unknown"
	}
}

// CompileError is returned for every fatal condition raised while expanding
// or compiling a template. It carries enough payload for diagnostics: the
// originating template, the offending reference text, the cycle path
// (RecursionDetected only), and the wrapped regex-engine error
// (RegexCompile only).
type CompileError struct {
	Kind      ErrorKind
	Template  string
	Reference string
	CyclePath []string
	Err       error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reference != "" {
		fmt.Fprintf(&b, ": %q", e.Reference)
	}
	if len(e.CyclePath) > 0 {
		fmt.Fprintf(&b, ": cycle %s", strings.Join(e.CyclePath, " -> "))
	}
	if e.Template != "" {
		fmt.Fprintf(&b, " in template %q", e.Template)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CompileError) Unwrap() error { return e.Err }

// Is reports whether target is a CompileError of the same Kind, so callers
// can write errors.Is(err, &grok.CompileError{Kind: grok.KindUnknownPattern}).
func (e *CompileError) Is(target error) bool {
	other, ok := target.(*CompileError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func unknownPatternErr(template, name string) *CompileError {
	return &CompileError{Kind: KindUnknownPattern, Template: template, Reference: name}
}

func recursionErr(template string, cycle []string) *CompileError {
	return &CompileError{Kind: KindRecursionDetected, Template: template, CyclePath: cycle}
}

func syntaxErr(template, fragment string, err error) *CompileError {
	return &CompileError{Kind: KindSyntaxError, Template: template, Reference: fragment, Err: err}
}

func regexCompileErr(template, expanded string, err error) *CompileError {
	return &CompileError{Kind: KindRegexCompile, Template: template, Reference: expanded, Err: err}
}
