package grok

// aliasEntry is one row of the alias table: it maps a compiler-generated,
// regex-legal capture group name back to the
// user-visible field path the caller asked for, plus the optional type tag
// that governs runtime coercion.
type aliasEntry struct {
	Field     string
	Type      string
	Anonymous bool // true when the reference had no explicit FIELD (bare %{NAME})
}

// aliasTable is the per-compiled-pattern map from internal alias to
// user-visible field. Two different field paths never share an alias;
// one field path may appear under multiple aliases (alternation branches),
// which is exactly what lets the matcher merge them into a list.
type aliasTable map[string]aliasEntry

// reservedRenames is an exact-match (never nested) rewrite of a handful of
// field names that collide with reserved output keys used by downstream
// log-shipping conventions.
var reservedRenames = map[string]string{
	"timestamp":  "log_timestamp",
	"time":       "log_time",
	"message":    "log_message",
	"content":    "log_content",
	"category":   "log_category",
	"pcode":      "log_pcode",
	"logContent": "log_body",
}

// applyReservedRenaming rewrites field if it exactly equals a reserved
// token. It is a fixed point: a name that is already a renamed form
// ("log_timestamp", ...) is left untouched because it never appears as a
// key of reservedRenames, and nested paths ("foo.timestamp") never match
// because this is an exact-string comparison, not a suffix match.
func applyReservedRenaming(field string, enabled bool) string {
	if !enabled {
		return field
	}
	if renamed, ok := reservedRenames[field]; ok {
		return renamed
	}
	return field
}
