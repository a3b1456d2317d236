package stream

import "errors"

// errNoMatch is the error recorded in a DLQEntry for a line that reached a
// configured template but did not match it. It never escapes this package.
var errNoMatch = errors.New("stream: line did not match template")
