package server

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadRequestStopsAtHeaderEnd(t *testing.T) {
	raw := "GET /tok/file.zip HTTP/1.1\r\nHost: localhost\r\n\r\n"
	got, err := readRequest(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != raw {
		t.Fatalf("expected full request bytes, got %q", got)
	}
}

func TestReadRequestEmptyConnection(t *testing.T) {
	if _, err := readRequest(strings.NewReader("")); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF for empty connection, got %v", err)
	}
}

func TestReadRequestCapsOversizedHead(t *testing.T) {
	raw := "GET /" + strings.Repeat("a", 2*maxRequestBytes) + " HTTP/1.1\r\n\r\n"
	got, err := readRequest(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != maxRequestBytes {
		t.Fatalf("expected read capped at %d bytes, got %d", maxRequestBytes, len(got))
	}
}

func TestParseRequest(t *testing.T) {
	raw := []byte("GET /abc123/pkg.zip HTTP/1.1\r\nHost: localhost\r\nX-Share-Password: hunter2\r\n\r\n")
	req, err := parseRequest(raw)
	if err != nil {
		t.Fatal(err)
	}
	if req.method != "GET" {
		t.Fatalf("expected method GET, got %q", req.method)
	}
	if req.target != "/abc123/pkg.zip" {
		t.Fatalf("expected target /abc123/pkg.zip, got %q", req.target)
	}
	if v, ok := req.header("x-share-PASSWORD"); !ok || v != "hunter2" {
		t.Fatalf("expected case-insensitive header lookup, got %q (%v)", v, ok)
	}
	if _, ok := req.header("Range"); ok {
		t.Fatal("expected missing header to report absent")
	}
}

func TestParseRequestBadRequestLine(t *testing.T) {
	cases := []string{
		"GARBAGE\r\n\r\n",
		"GET /path\r\n\r\n",
		"GET /path NOTHTTP\r\n\r\n",
		"\r\n\r\n",
	}
	for _, raw := range cases {
		if _, err := parseRequest([]byte(raw)); !errors.Is(err, errMalformedRequest) {
			t.Fatalf("expected malformed request for %q, got %v", raw, err)
		}
	}
}

func TestParseRequestSkipsBrokenHeaderLines(t *testing.T) {
	raw := []byte("HEAD / HTTP/1.0\r\nnot a header\r\nHost: x\r\n\r\n")
	req, err := parseRequest(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.headers) != 1 {
		t.Fatalf("expected 1 parsed header, got %d", len(req.headers))
	}
	if v, _ := req.header("Host"); v != "x" {
		t.Fatalf("expected host header x, got %q", v)
	}
}

func TestParseByteRange(t *testing.T) {
	tests := []struct {
		name  string
		value string
		size  int64
		start int64
		end   int64
		ok    bool
	}{
		{name: "explicit range", value: "bytes=100-199", size: 1000, start: 100, end: 199, ok: true},
		{name: "open end", value: "bytes=100-", size: 1000, start: 100, end: 999, ok: true},
		{name: "open start", value: "bytes=-500", size: 1000, start: 0, end: 500, ok: true},
		{name: "end clamped to size", value: "bytes=0-5000", size: 1000, start: 0, end: 999, ok: true},
		{name: "start clamped to size", value: "bytes=5000-9000", size: 1000, start: 999, end: 999, ok: true},
		{name: "first of multiple ranges", value: "bytes=0-99,200-299", size: 1000, start: 0, end: 99, ok: true},
		{name: "uppercase unit", value: "BYTES=1-2", size: 1000, start: 1, end: 2, ok: true},
		{name: "inverted range", value: "bytes=200-100", size: 1000, ok: false},
		{name: "missing dash", value: "bytes=100", size: 1000, ok: false},
		{name: "non-numeric start", value: "bytes=abc-", size: 1000, ok: false},
		{name: "non-numeric end", value: "bytes=-xyz", size: 1000, ok: false},
		{name: "wrong unit", value: "items=0-5", size: 1000, ok: false},
		{name: "empty file", value: "bytes=0-10", size: 0, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := parseByteRange(tt.value, tt.size)
			if ok != tt.ok {
				t.Fatalf("parseByteRange(%q, %d): got ok=%v, want %v", tt.value, tt.size, ok, tt.ok)
			}
			if !ok {
				return
			}
			if start != tt.start || end != tt.end {
				t.Fatalf("parseByteRange(%q, %d): got %d-%d, want %d-%d", tt.value, tt.size, start, end, tt.start, tt.end)
			}
		})
	}
}
