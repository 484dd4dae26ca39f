package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxRequestBytes bounds how much of an inbound connection is read before
// parsing: one request line plus headers. Only GET/HEAD are served, so no
// body ever needs to be consumed.
const maxRequestBytes = 4096

var errMalformedRequest = errors.New("malformed request")

// request is one parsed inbound HTTP request: method, target path, and the
// headers with lower-cased names.
type request struct {
	method  string
	target  string
	headers map[string]string
}

// header returns the value for a header name, matched case-insensitively.
func (r *request) header(name string) (string, bool) {
	v, ok := r.headers[strings.ToLower(name)]
	return v, ok
}

// readRequest reads at most [maxRequestBytes] from the connection, stopping
// early once the header terminator is seen.
func readRequest(r io.Reader) ([]byte, error) {
	buf := make([]byte, maxRequestBytes)
	filled := 0
	for filled < maxRequestBytes {
		n, err := r.Read(buf[filled:])
		filled += n
		if bytes.Contains(buf[:filled], []byte("\r\n\r\n")) {
			break
		}
		if err != nil {
			if err == io.EOF && filled > 0 {
				break
			}
			return nil, err
		}
	}
	if filled == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return buf[:filled], nil
}

// parseRequest interprets raw bytes as an HTTP/1.1 request line plus
// headers. Header lines without a colon are skipped; a bad request line is
// an error.
func parseRequest(raw []byte) (*request, error) {
	head := raw
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		head = raw[:i]
	}

	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 {
		return nil, errMalformedRequest
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 3 || !strings.HasPrefix(fields[2], "HTTP/") {
		return nil, fmt.Errorf("%w: bad request line %q", errMalformedRequest, lines[0])
	}

	req := &request{
		method:  fields[0],
		target:  fields[1],
		headers: make(map[string]string, len(lines)-1),
	}
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return req, nil
}

// parseByteRange interprets a "bytes=start-end" header value against the
// file size. A missing start defaults to 0, a missing end to size-1, and
// both are clamped to [0, size-1]. Returns ok=false for anything that
// cannot be served as a single byte range, in which case the caller falls
// back to the full file.
func parseByteRange(value string, size int64) (start, end int64, ok bool) {
	if size <= 0 {
		return 0, 0, false
	}
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(strings.ToLower(value), "bytes=") {
		return 0, 0, false
	}
	spec := value[len("bytes="):]
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}

	start = 0
	if s := strings.TrimSpace(startStr); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		start = n
	}
	end = size - 1
	if s := strings.TrimSpace(endStr); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		end = n
	}

	start = clamp(start, 0, size-1)
	end = clamp(end, 0, size-1)
	if end < start {
		return 0, 0, false
	}
	return start, end, true
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
