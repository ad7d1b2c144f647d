package http1

import (
	"bufio"
	"fmt"
	"io"
)

const (
	StatusOK                  = 200
	StatusBadRequest          = 400
	StatusNotFound            = 404
	StatusInternalServerError = 500
	StatusServiceUnavailable  = 503
)

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	switch code {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusInternalServerError:
		return "Internal Server Error"
	case StatusServiceUnavailable:
		return "Service Unavailable"
	default:
		return ""
	}
}

// Response is what a handler produces for a request.
type Response struct {
	Status int
	Body   string
}

// WriteResponse writes the status line, a Content-Length header when body is
// non-empty, the blank line and the body. An empty text is replaced by
// StatusText(status).
func WriteResponse(w io.Writer, v Version, status int, text, body string) error {
	if text == "" {
		text = StatusText(status)
	}
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s %d %s\r\n", v, status, text); err != nil {
		return err
	}
	if body != "" {
		if _, err := fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body)); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if body != "" {
		if _, err := bw.WriteString(body); err != nil {
			return err
		}
	}
	return bw.Flush()
}
