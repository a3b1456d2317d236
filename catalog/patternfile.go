package catalog

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/grokworks/grok/internal/logging"
)

// ParseFile parses a pattern-definition file: one `NAME BODY` pair per
// non-empty, non-comment line. source is used only to
// label the returned error (typically a file name or Source name); it is
// never interpreted.
//
// Grammar per line:
//   - a blank line is ignored
//   - a line whose first non-whitespace byte is '#' is ignored
//   - otherwise, the first run of non-whitespace bytes is NAME, followed by
//     one or more whitespace bytes, followed by the rest of the line as
//     BODY, right-trimmed (trailing carriage return / spaces) but not
//     trimmed internally.
//
// A duplicate NAME within the file is not an error: the last definition
// wins, matching the file-level "last write wins" rule used throughout the
// catalog. A non-nil logger receives a Warn for every overwrite.
func ParseFile(source string, r io.Reader, logger *logging.Logger) (map[string]string, error) {
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.WithComponent("catalog")

	defs := make(map[string]string)
	lines := make(map[string]int)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		trimmedLeft := strings.TrimLeft(line, " \t")
		if trimmedLeft == "" {
			continue
		}
		if trimmedLeft[0] == '#' {
			continue
		}

		idx := strings.IndexAny(trimmedLeft, " \t")
		if idx < 0 {
			return nil, &PatternFileError{File: source, Err: fmt.Errorf("line %d: %q has a name but no body", lineNo, trimmedLeft)}
		}

		name := trimmedLeft[:idx]
		body := strings.TrimRight(trimmedLeft[idx+1:], " \t\r")
		body = strings.TrimLeft(body, " \t")
		if body == "" {
			return nil, &PatternFileError{File: source, Err: fmt.Errorf("line %d: %q has a name but no body", lineNo, name)}
		}

		if firstLine, seen := lines[name]; seen {
			logger.Warn().
				Str("file", source).
				Str("pattern", name).
				Int("first_line", firstLine).
				Int("line", lineNo).
				Msg("duplicate pattern name within file, last definition wins")
		}
		lines[name] = lineNo
		defs[name] = body
	}
	if err := scanner.Err(); err != nil {
		return nil, &PatternFileError{File: source, Err: err}
	}
	return defs, nil
}

// PatternFileError reports a failure parsing one pattern-definition file.
type PatternFileError struct {
	File string
	Err  error
}

func (e *PatternFileError) Error() string {
	return fmt.Sprintf("catalog: parsing %q: %v", e.File, e.Err)
}

func (e *PatternFileError) Unwrap() error { return e.Err }
