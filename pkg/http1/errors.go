package http1

import (
	"errors"
	"fmt"
)

var (
	// ErrLineTooLong is returned by LineReader when a line exceeds the
	// configured maximum length before a terminator is seen.
	ErrLineTooLong = errors.New("line too long")
	// ErrNoData is returned by LineReader when the stream ends before any
	// byte of the next line was read.
	ErrNoData = errors.New("no data")
	// ErrBodyTooLarge is returned when Content-Length exceeds the maximum
	// body size.
	ErrBodyTooLarge = errors.New("body too large")
)

// ErrorKind classifies request decoding failures.
type ErrorKind int

const (
	KindHeadline ErrorKind = iota + 1
	KindMethodMissing
	KindMethodMalformed
	KindResourceMissing
	// KindResourceMalformed is reserved. NormalizePath accepts any token.
	KindResourceMalformed
	KindHttpVersionMissing
	KindHttpVersionMalformed
	KindHeadersMalformed
	KindBodyMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindHeadline:
		return "headline"
	case KindMethodMissing:
		return "method missing"
	case KindMethodMalformed:
		return "method malformed"
	case KindResourceMissing:
		return "resource missing"
	case KindResourceMalformed:
		return "resource malformed"
	case KindHttpVersionMissing:
		return "http version missing"
	case KindHttpVersionMalformed:
		return "http version malformed"
	case KindHeadersMalformed:
		return "headers malformed"
	case KindBodyMalformed:
		return "body malformed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// RequestError is returned by every decoding stage. Err carries the
// underlying cause, if any.
type RequestError struct {
	Kind ErrorKind
	Err  error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid request: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("invalid request: %s", e.Kind)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a RequestError sentinel of the same kind.
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*RequestError)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrHeadline             = &RequestError{Kind: KindHeadline}
	ErrMethodMissing        = &RequestError{Kind: KindMethodMissing}
	ErrMethodMalformed      = &RequestError{Kind: KindMethodMalformed}
	ErrResourceMissing      = &RequestError{Kind: KindResourceMissing}
	ErrResourceMalformed    = &RequestError{Kind: KindResourceMalformed}
	ErrHttpVersionMissing   = &RequestError{Kind: KindHttpVersionMissing}
	ErrHttpVersionMalformed = &RequestError{Kind: KindHttpVersionMalformed}
	ErrHeadersMalformed     = &RequestError{Kind: KindHeadersMalformed}
	ErrBodyMalformed        = &RequestError{Kind: KindBodyMalformed}
)

// KindOf returns the kind of the first RequestError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

func newError(kind ErrorKind, err error) *RequestError {
	return &RequestError{Kind: kind, Err: err}
}
