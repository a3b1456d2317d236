// Package types holds the small data shapes shared between the grokd
// stream pipeline and its export sinks.
package types

import (
	"time"

	"github.com/grokworks/grok"
)

// Record is a successfully matched line ready to hand to an export sink.
type Record struct {
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source"`
	Template  string       `json:"template"`
	Capture   grok.Capture `json:"capture"`
	Raw       string       `json:"raw"`
}

// FilePosition tracks the current tail position in a followed file.
type FilePosition struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Inode  uint64 `json:"inode"`
}

// MatchStats tracks match-pipeline throughput.
type MatchStats struct {
	Matched int64 `json:"matched"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}
