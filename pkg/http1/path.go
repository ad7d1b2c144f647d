package http1

import (
	"strings"
)

// Path is a normalized request target.
type Path struct {
	// Path always starts with "/", contains no whitespace or empty segments
	// and only ends with "/" when it is the root.
	Path string
	// Query is the raw query string with whitespace removed. It is not
	// percent-decoded.
	Query string
	// HasQuery is set when the target contained a "?", even if Query is empty.
	HasQuery bool
}

func (p Path) String() string {
	if p.HasQuery {
		return p.Path + "?" + p.Query
	}
	return p.Path
}

// NormalizePath splits raw on the first "?" and normalizes both halves.
// Normalizing an already normalized target is a no-op.
func NormalizePath(raw string) Path {
	rawPath, rawQuery, hasQuery := strings.Cut(raw, "?")

	p := stripSpace(rawPath)
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	res := Path{Path: p, HasQuery: hasQuery}
	if hasQuery {
		res.Query = stripSpace(rawQuery)
	}
	return res
}

// stripSpace drops whitespace and keeps every other byte as is, including
// bytes that are not valid UTF-8.
func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
