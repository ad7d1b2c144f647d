package http1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxLineLength bounds a single request or header line.
const DefaultMaxLineLength = 80_000

// LineReader reads CRLF or LF terminated lines from a stream. It also
// implements io.Reader over the same buffer so that bytes following the last
// line read are not lost.
type LineReader struct {
	br  *bufio.Reader
	max int
}

// NewLineReader returns a LineReader over r. A non-positive max selects
// DefaultMaxLineLength.
func NewLineReader(r io.Reader, max int) *LineReader {
	if max <= 0 {
		max = DefaultMaxLineLength
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &LineReader{br: br, max: max}
}

// ReadLine returns the next line without its terminator.
//
// It fails with ErrNoData if the stream ends before the first byte of the
// line and with ErrLineTooLong once more than max bytes were read without a
// terminator. Other read errors are wrapped.
func (r *LineReader) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if sb.Len() == 0 {
					return "", ErrNoData
				}
				return strings.TrimSuffix(sb.String(), "\r"), nil
			}
			return "", fmt.Errorf("read line: %w", err)
		}
		if b == '\n' {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
		// A CR right at the limit may still be the first half of CRLF.
		if sb.Len() >= r.max && !(sb.Len() == r.max && b == '\r') {
			return "", ErrLineTooLong
		}
		sb.WriteByte(b)
	}
}

func (r *LineReader) Read(p []byte) (int, error) {
	return r.br.Read(p)
}
