package http1

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultMaxBodyBytes bounds the Content-Length a request may declare.
const DefaultMaxBodyBytes int64 = 10 << 20

// readBody reads exactly Content-Length bytes from r. An absent header or a
// zero-length body both yield "".
func readBody(r io.Reader, h Header, max int64) (string, error) {
	v, ok := h.Get("content-length")
	if !ok {
		return "", nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 63)
	if err != nil {
		return "", newError(KindHeadersMalformed, fmt.Errorf("content-length %q: %w", v, err))
	}
	if max > 0 && int64(n) > max {
		return "", newError(KindBodyMalformed, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, n, max))
	}
	if n == 0 {
		return "", nil
	}

	// The buffer grows with the bytes that actually arrive, never with the
	// declared length.
	var buf bytes.Buffer
	got, err := io.CopyN(&buf, r, int64(n))
	if err != nil {
		if errors.Is(err, io.EOF) && got > 0 {
			err = io.ErrUnexpectedEOF
		}
		return "", newError(KindBodyMalformed, fmt.Errorf("read %d of %d body bytes: %w", got, n, err))
	}
	if !utf8.Valid(buf.Bytes()) {
		return "", newError(KindBodyMalformed, fmt.Errorf("body is not valid UTF-8"))
	}
	return buf.String(), nil
}
