package catalog

import (
	"errors"
	"io"
	"testing"
)

func TestEmbeddedSourceTrailingSpaceFile(t *testing.T) {
	s := NewEmbeddedSource()

	f, err := s.Open("junos ")
	if err != nil {
		t.Fatalf(`Open("junos "): %v`, err)
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("reading junos pattern file: %v", err)
	}
	if len(body) == 0 {
		t.Error("expected a non-empty junos pattern file")
	}
}

func TestEmbeddedSourceTrailingSpaceRequired(t *testing.T) {
	s := NewEmbeddedSource()

	if _, err := s.Open("junos"); !errors.Is(err, ErrNotFound) {
		t.Errorf(`Open("junos") without the trailing space: got %v, want ErrNotFound`, err)
	}
}

func TestEmbeddedSourceList(t *testing.T) {
	s := NewEmbeddedSource()
	names, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	found := false
	for _, n := range names {
		if n == "junos " {
			found = true
		}
	}
	if !found {
		t.Error(`expected List() to include "junos " with its trailing space`)
	}
	if len(names) != len(knownPatternTypes) {
		t.Errorf("List returned %d names, want %d", len(names), len(knownPatternTypes))
	}
}

func TestEmbeddedSourceNotFound(t *testing.T) {
	s := NewEmbeddedSource()
	if _, err := s.Open("does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
