package bridge

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/mevdschee/lambdafpm/pkg/fastcgi"
)

// ParseResponse splits the worker's stdout into status, headers and body.
// The header block ends at the first blank line; a Status pseudo-header is
// consumed into the status code, everything else is lowercased and kept in
// order.
func ParseResponse(stdout []byte) (status int, headers map[string][]string, body []byte, err error) {
	head, body, found := bytes.Cut(stdout, []byte("\r\n\r\n"))
	if !found {
		head, body, found = bytes.Cut(stdout, []byte("\n\n"))
	}
	if !found {
		return 0, nil, nil, &fastcgi.ProtocolError{Reason: "response has no header block terminator"}
	}

	status = 200
	statusSeen := false
	headers = make(map[string][]string)

	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, nil, nil, &fastcgi.ProtocolError{Reason: "malformed header line: " + line}
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		if name == "status" {
			if statusSeen {
				continue
			}
			parsed, perr := parseStatus(value)
			if perr != nil {
				return 0, nil, nil, perr
			}
			status = parsed
			statusSeen = true
			continue
		}
		headers[name] = append(headers[name], value)
	}

	return status, headers, body, nil
}

// parseStatus reads the numeric part of a Status header; php emits values
// like "201 Created".
func parseStatus(value string) (int, error) {
	code, _, _ := strings.Cut(value, " ")
	status, err := strconv.Atoi(code)
	if err != nil {
		return 0, &fastcgi.ProtocolError{Reason: "unparseable status: " + value}
	}
	return status, nil
}
