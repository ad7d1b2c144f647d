package http1

import (
	"fmt"
	"strings"
)

// Method is an HTTP request method. The zero value is not a valid method.
type Method int

const (
	MethodGet Method = iota + 1
	MethodPut
	MethodPatch
	MethodPost
	MethodDelete
)

var methodNames = map[Method]string{
	MethodGet:    "GET",
	MethodPut:    "PUT",
	MethodPatch:  "PATCH",
	MethodPost:   "POST",
	MethodDelete: "DELETE",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod matches s case-insensitively against the supported methods.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(s) {
	case "GET":
		return MethodGet, nil
	case "PUT":
		return MethodPut, nil
	case "PATCH":
		return MethodPatch, nil
	case "POST":
		return MethodPost, nil
	case "DELETE":
		return MethodDelete, nil
	}
	return 0, newError(KindMethodMalformed, fmt.Errorf("unknown method %q", s))
}

// Version is an HTTP protocol version. The zero value is not a valid version.
type Version int

const (
	Version11 Version = iota + 1
	Version2
)

func (v Version) String() string {
	switch v {
	case Version11:
		return "HTTP/1.1"
	case Version2:
		return "HTTP/2"
	}
	return fmt.Sprintf("Version(%d)", int(v))
}

// ParseVersion maps a wire token to a Version, ignoring case.
func ParseVersion(s string) (Version, error) {
	switch strings.ToUpper(s) {
	case "HTTP/1.1":
		return Version11, nil
	case "HTTP/2":
		return Version2, nil
	}
	return 0, newError(KindHttpVersionMalformed, fmt.Errorf("unknown version %q", s))
}
