package http1

import (
	"fmt"
	"io"
)

// Request is a fully decoded request. Body is "" when the request carried
// no body or an empty one.
type Request struct {
	Method   Method
	Resource Path
	Header   Header
	Body     string
	Version  Version
}

// HasBody reports whether the request carried a non-empty body.
func (r *Request) HasBody() bool {
	return r.Body != ""
}

// State is the position of a Decoder in the request.
type State int

const (
	StateAwaitRequestLine State = iota
	StateAwaitHeaders
	StateAwaitBody
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitRequestLine:
		return "AwaitRequestLine"
	case StateAwaitHeaders:
		return "AwaitHeaders"
	case StateAwaitBody:
		return "AwaitBody"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a Decoder.
type Option func(*options)

type options struct {
	maxLineLength int
	maxBodyBytes  int64
}

func defaultOptions() *options {
	return &options{
		maxLineLength: DefaultMaxLineLength,
		maxBodyBytes:  DefaultMaxBodyBytes,
	}
}

// WithMaxLineLength sets the longest accepted request or header line.
func WithMaxLineLength(n int) Option {
	return func(o *options) {
		o.maxLineLength = n
	}
}

// WithMaxBodyBytes sets the largest accepted Content-Length.
// Zero or less disables the check.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		o.maxBodyBytes = n
	}
}

// Decoder decodes a single request from a stream. The request line, the
// header block and the body are read in that order from one shared buffer.
type Decoder struct {
	lr      *LineReader
	maxBody int64

	state State
	err   error

	line   requestLine
	header Header
	req    *Request
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Decoder{
		lr:      NewLineReader(r, o.maxLineLength),
		maxBody: o.maxBodyBytes,
	}
}

// State returns the current decoding state.
func (d *Decoder) State() State {
	return d.state
}

// Decode runs the decoder to completion. Once it failed, it keeps returning
// the same error; once it succeeded, it keeps returning the same request.
func (d *Decoder) Decode() (*Request, error) {
	for {
		switch d.state {
		case StateAwaitRequestLine:
			line, err := d.lr.ReadLine()
			if err != nil {
				d.fail(newError(KindHeadline, err))
				continue
			}
			rl, err := parseRequestLine(line)
			if err != nil {
				d.fail(err)
				continue
			}
			d.line = rl
			d.state = StateAwaitHeaders
		case StateAwaitHeaders:
			h, err := readHeader(d.lr)
			if err != nil {
				d.fail(err)
				continue
			}
			d.header = h
			d.state = StateAwaitBody
		case StateAwaitBody:
			body, err := readBody(d.lr, d.header, d.maxBody)
			if err != nil {
				d.fail(err)
				continue
			}
			d.req = &Request{
				Method:   d.line.method,
				Resource: NormalizePath(d.line.resource),
				Header:   d.header,
				Body:     body,
				Version:  d.line.version,
			}
			d.state = StateDone
		case StateDone:
			return d.req, nil
		case StateFailed:
			return nil, d.err
		}
	}
}

func (d *Decoder) fail(err error) {
	d.err = err
	d.state = StateFailed
	d.header = nil
	d.line = requestLine{}
}

// ReadRequest decodes one request from r.
func ReadRequest(r io.Reader, opts ...Option) (*Request, error) {
	return NewDecoder(r, opts...).Decode()
}
