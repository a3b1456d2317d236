package grok

import (
	"errors"
	"testing"
)

func TestCompileErrorIs(t *testing.T) {
	err := unknownPatternErr("%{FOO}", "FOO")

	var target *CompileError
	if !errors.As(err, &target) {
		t.Fatal("expected errors.As to find a *CompileError")
	}
	if target.Kind != KindUnknownPattern {
		t.Errorf("Kind = %v, want KindUnknownPattern", target.Kind)
	}

	sentinel := &CompileError{Kind: KindUnknownPattern}
	if !errors.Is(err, sentinel) {
		t.Error("expected errors.Is to match by Kind")
	}

	other := &CompileError{Kind: KindRecursionDetected}
	if errors.Is(err, other) {
		t.Error("did not expect errors.Is to match a different Kind")
	}
}

