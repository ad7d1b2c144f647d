package http1

import (
	"fmt"
	"strings"
)

type requestLine struct {
	method   Method
	resource string
	version  Version
}

// parseRequestLine splits line into method, resource and version. Tokens are
// checked in that order and the first failure is returned.
func parseRequestLine(line string) (requestLine, error) {
	fields := strings.Fields(line)

	if len(fields) < 1 {
		return requestLine{}, newError(KindMethodMissing, nil)
	}
	method, err := ParseMethod(fields[0])
	if err != nil {
		return requestLine{}, err
	}

	if len(fields) < 2 {
		return requestLine{}, newError(KindResourceMissing, nil)
	}
	resource := fields[1]

	if len(fields) < 3 {
		return requestLine{}, newError(KindHttpVersionMissing, nil)
	}
	if len(fields) > 3 {
		return requestLine{}, newError(KindHttpVersionMalformed,
			fmt.Errorf("unexpected tokens after version: %q", strings.Join(fields[3:], " ")))
	}
	version, err := ParseVersion(fields[2])
	if err != nil {
		return requestLine{}, err
	}

	return requestLine{method: method, resource: resource, version: version}, nil
}
