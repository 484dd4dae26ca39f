package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/koltyakov/parcel/internal/auth"
	"github.com/koltyakov/parcel/internal/domain"
	"github.com/koltyakov/parcel/internal/pack"
)

const (
	// chunkSize is the unit of disk-to-socket copying.
	chunkSize = 64 << 10

	// progressThreshold is how many streamed bytes accumulate before the
	// live counters are bumped and a progress event goes out.
	progressThreshold = 256 << 10

	// throttleDelay slows brute-force attempts on the token or password.
	throttleDelay = 100 * time.Millisecond
)

const (
	bodyBadToken         = "Invalid or missing access token"
	bodyPasswordRequired = "PASSWORD_REQUIRED"
	bodyInvalidPassword  = "INVALID_PASSWORD"
	bodyNotFound         = "Not Found"
	bodyBadRequest       = "Bad Request"
)

// Responder handles one parsed peer connection for a single share: token
// and password checks, routing, and streaming the package body. It is
// stateless between connections; all mutable state lives in the share's
// [domain.Counters].
type Responder struct {
	Share     *domain.Share
	Counters  *domain.Counters
	Manifests *pack.ManifestCache
	Sink      domain.EventSink
	Logger    *slog.Logger
}

// Respond reads one request from the connection and writes one response.
// Auth and routing failures are answered on the wire and are not errors;
// the returned error reports I/O-level failures only (peer gone, deadline
// hit).
func (rp *Responder) Respond(conn io.ReadWriter) error {
	raw, err := readRequest(conn)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	req, err := parseRequest(raw)
	if err != nil {
		rp.Logger.Debug("malformed request", "share_id", rp.Share.ID, "err", err)
		return writeError(conn, 400, bodyBadRequest)
	}

	token, rest := splitSharePath(req.target)
	if token == "" {
		return writeError(conn, 403, bodyBadToken)
	}
	if !auth.ConstantTimeEq(token, rp.Share.Token) {
		// Deliberate delay: brute-forcing the token costs 100ms per try.
		// The response never reveals whether the path would have existed.
		time.Sleep(throttleDelay)
		rp.Logger.Debug("token rejected", "share_id", rp.Share.ID, "err", domain.ErrAuth)
		return writeError(conn, 403, bodyBadToken)
	}

	if rp.Share.Protected() {
		password, ok := req.header("X-Share-Password")
		if !ok {
			return writeError(conn, 401, bodyPasswordRequired)
		}
		if !auth.ValidatePassword(password, rp.Share.ID, rp.Share.PasswordHash) {
			time.Sleep(throttleDelay)
			rp.Logger.Debug("password rejected", "share_id", rp.Share.ID, "err", domain.ErrAuth)
			return writeError(conn, 403, bodyInvalidPassword)
		}
	}

	return rp.route(conn, req, rest)
}

// splitSharePath splits "/{token}/{rest}" into its segments, dropping any
// query string. rest comes back without a leading slash.
func splitSharePath(target string) (token, rest string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	target = strings.TrimPrefix(target, "/")
	token, rest, _ = strings.Cut(target, "/")
	return token, rest
}

func (rp *Responder) route(conn io.ReadWriter, req *request, rest string) error {
	switch {
	case rp.isFilePath(rest):
		switch req.method {
		case "GET":
			return rp.serveFile(conn, req, false)
		case "HEAD":
			return rp.serveFile(conn, req, true)
		}
	case rest == "manifest" && req.method == "GET":
		return rp.serveManifest(conn)
	}
	return writeError(conn, 404, bodyNotFound)
}

// isFilePath reports whether rest addresses the served package: the bare
// token, /download, or the package name itself (possibly URL-escaped).
func (rp *Responder) isFilePath(rest string) bool {
	if rest == "" || rest == "download" {
		return true
	}
	if rest == rp.Share.FileName {
		return true
	}
	if unescaped, err := url.PathUnescape(rest); err == nil && unescaped == rp.Share.FileName {
		return true
	}
	return false
}

func (rp *Responder) serveFile(conn io.ReadWriter, req *request, headOnly bool) error {
	f, err := os.Open(rp.Share.FilePath)
	if err != nil {
		rp.Logger.Warn("package unreadable", "share_id", rp.Share.ID, "err", err)
		return writeError(conn, 404, bodyNotFound)
	}
	defer func() { _ = f.Close() }()

	size := rp.Share.FileSize
	start, end := int64(0), size-1
	status := 200
	ranged := false
	if value, ok := req.header("Range"); ok {
		if s, e, valid := parseByteRange(value, size); valid {
			start, end, ranged = s, e, true
			status = 206
		}
	}
	length := end - start + 1
	if size == 0 {
		length = 0
	}

	headers := [][2]string{
		{"Content-Type", "application/zip"},
		{"Content-Length", fmt.Sprintf("%d", length)},
		{"Accept-Ranges", "bytes"},
		{"Content-Disposition", fmt.Sprintf("attachment; filename=%q", rp.Share.FileName)},
	}
	if ranged {
		headers = append(headers, [2]string{"Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size)})
	}
	if err := writeHead(conn, status, headers); err != nil {
		return err
	}
	if headOnly {
		return nil
	}

	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return fmt.Errorf("seek to %d: %w", start, err)
		}
	}
	return rp.streamFile(conn, f, length, ranged)
}

// streamFile copies length bytes from the file to the peer in fixed-size
// chunks, folding progress into the share counters every time the emission
// threshold is crossed. The trailing remainder is always flushed into the
// counters, so the final totals account for every byte put on the wire. A
// completed full (non-ranged) transfer bumps the completion counter exactly
// once.
func (rp *Responder) streamFile(conn io.Writer, f *os.File, length int64, ranged bool) error {
	buf := make([]byte, chunkSize)
	var sent, sinceEmit int64

	flush := func() {
		if sinceEmit > 0 {
			rp.Counters.AddBytes(sinceEmit)
			sinceEmit = 0
			rp.emitProgress(false)
		}
	}

	for sent < length {
		n := chunkSize
		if rem := length - sent; rem < int64(n) {
			n = int(rem)
		}
		rn, rerr := f.Read(buf[:n])
		if rn > 0 {
			wn, werr := conn.Write(buf[:rn])
			sent += int64(wn)
			sinceEmit += int64(wn)
			if sinceEmit >= progressThreshold {
				flush()
			}
			if werr != nil {
				flush()
				return fmt.Errorf("stream to peer: %w", werr)
			}
		}
		if rerr != nil {
			flush()
			if errors.Is(rerr, io.EOF) {
				break
			}
			return fmt.Errorf("read package: %w", rerr)
		}
	}
	flush()

	if !ranged && sent >= rp.Share.FileSize {
		rp.Counters.AddCompletion()
		rp.emitProgress(true)
	}
	return nil
}

func (rp *Responder) serveManifest(conn io.ReadWriter) error {
	body, err := rp.Manifests.Manifest(rp.Share.FilePath)
	if err != nil {
		rp.Logger.Debug("manifest unavailable", "share_id", rp.Share.ID, "err", err)
		return writeError(conn, 404, bodyNotFound)
	}
	if err := writeHead(conn, 200, [][2]string{
		{"Content-Type", "application/json"},
		{"Content-Length", fmt.Sprintf("%d", len(body))},
	}); err != nil {
		return err
	}
	_, err = conn.Write(body)
	return err
}

func (rp *Responder) emitProgress(completed bool) {
	if rp.Sink == nil {
		return
	}
	completions, bytesSent := rp.Counters.Snapshot()
	rp.Sink.Progress(domain.ProgressEvent{
		ShareID:     rp.Share.ID,
		Completions: completions,
		BytesSent:   bytesSent,
		Completed:   completed,
	})
}
