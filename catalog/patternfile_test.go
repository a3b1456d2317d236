package catalog

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/grokworks/grok/internal/logging"
)

func TestParseFileBasic(t *testing.T) {
	src := "USERNAME [a-zA-Z0-9._-]+\n# a comment\n\nWORD \\b\\w+\\b\n"
	defs, err := ParseFile("test", strings.NewReader(src), nil)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if defs["USERNAME"] != "[a-zA-Z0-9._-]+" {
		t.Errorf("USERNAME = %q", defs["USERNAME"])
	}
	if defs["WORD"] != `\b\w+\b` {
		t.Errorf("WORD = %q", defs["WORD"])
	}
}

func TestParseFileDuplicateLastWins(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: "warn", Format: "json", Output: &buf})

	src := "FOO one\nFOO two\n"
	defs, err := ParseFile("test", strings.NewReader(src), logger)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if defs["FOO"] != "two" {
		t.Errorf("FOO = %q, want two (last write wins)", defs["FOO"])
	}

	logged := buf.String()
	if !strings.Contains(logged, "duplicate pattern name") {
		t.Errorf("expected a duplicate-name warning to be logged, got %q", logged)
	}
	if !strings.Contains(logged, `"pattern":"FOO"`) {
		t.Errorf("expected the warning to name the duplicated pattern, got %q", logged)
	}
}

func TestParseFileNameWithoutBody(t *testing.T) {
	_, err := ParseFile("test", strings.NewReader("FOO\n"), nil)
	if err == nil {
		t.Fatal("expected an error for a name with no body")
	}
	var pfe *PatternFileError
	if !errors.As(err, &pfe) {
		t.Fatalf("expected *PatternFileError, got %T", err)
	}
}

func TestParseFileBodyRightTrimmed(t *testing.T) {
	defs, err := ParseFile("test", strings.NewReader("FOO bar   \r\n"), nil)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if defs["FOO"] != "bar" {
		t.Errorf("FOO = %q, want %q", defs["FOO"], "bar")
	}
}
