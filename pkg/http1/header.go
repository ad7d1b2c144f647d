package http1

import (
	"errors"
	"fmt"
	"strings"
)

// Header maps lower-cased header names to their values in arrival order.
type Header map[string][]string

// Add appends value to the values of key.
func (h Header) Add(key, value string) {
	k := strings.ToLower(key)
	h[k] = append(h[k], value)
}

// Get returns the first value of key, if any.
func (h Header) Get(key string) (string, bool) {
	vv := h[strings.ToLower(key)]
	if len(vv) == 0 {
		return "", false
	}
	return vv[0], true
}

// Values returns all values of key.
func (h Header) Values(key string) []string {
	return h[strings.ToLower(key)]
}

// readHeader consumes header lines up to and including the blank separator
// line. End of stream before the separator ends the block without error.
func readHeader(lr *LineReader) (Header, error) {
	h := make(Header)
	for {
		line, err := lr.ReadLine()
		if errors.Is(err, ErrNoData) {
			return h, nil
		}
		if err != nil {
			return nil, newError(KindHeadersMalformed, err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return h, nil
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, newError(KindHeadersMalformed, fmt.Errorf("missing separator in %q", line))
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, newError(KindHeadersMalformed, fmt.Errorf("empty name in %q", line))
		}
		h.Add(name, strings.TrimSpace(value))
	}
}
