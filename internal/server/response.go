package server

import (
	"fmt"
	"io"
	"strings"
)

var statusText = map[int]string{
	200: "OK",
	206: "Partial Content",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
}

// writeHead writes the status line and headers. Every response carries
// Connection: close; the server never keeps connections alive.
func writeHead(w io.Writer, status int, headers [][2]string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, statusText[status])
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("Connection: close\r\n\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// writeError sends a short plaintext error response. Bodies stay terse and
// never include internal paths.
func writeError(w io.Writer, status int, body string) error {
	if err := writeHead(w, status, [][2]string{
		{"Content-Type", "text/plain; charset=utf-8"},
		{"Content-Length", fmt.Sprintf("%d", len(body))},
	}); err != nil {
		return err
	}
	_, err := io.WriteString(w, body)
	return err
}
