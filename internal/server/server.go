// Package server implements the localhost HTTP file server behind a share:
// a raw TCP accept loop with a concurrent-connection ceiling, and a
// per-connection responder that speaks just enough HTTP/1.1 to stream one
// package to authenticated peers.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/koltyakov/parcel/internal/domain"
	"github.com/koltyakov/parcel/internal/netutil"
)

const (
	// DefaultMaxConns is the concurrent-connection ceiling per share.
	DefaultMaxConns = 10

	// DefaultConnTimeout bounds one peer connection end to end. Slow or
	// stalled transfers past this point are abandoned.
	DefaultConnTimeout = 300 * time.Second

	limiterSweepInterval = time.Minute
)

// Config sizes one share's file server.
type Config struct {
	Port        int           // 0 binds an ephemeral port
	MaxConns    int           // defaults to DefaultMaxConns
	ConnTimeout time.Duration // defaults to DefaultConnTimeout
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = DefaultConnTimeout
	}
	return c
}

// FileServer owns the bound listener and the accept loop for one share.
// Connections above the ceiling are dropped before any processing; accepted
// connections each get their own goroutine and deadline, so one slow peer
// never blocks the loop or other peers.
type FileServer struct {
	cfg       Config
	responder *Responder
	logger    *slog.Logger

	ln      net.Listener
	limiter *ipLimiter
	active  atomic.Int32
	closing atomic.Bool
	done    chan struct{}
}

// New builds a file server for one share. Start must be called before any
// peer can connect.
func New(cfg Config, rp *Responder, logger *slog.Logger) *FileServer {
	return &FileServer{
		cfg:       cfg.withDefaults(),
		responder: rp,
		logger:    logger,
		limiter:   newIPLimiter(),
		done:      make(chan struct{}),
	}
}

// Start binds the configured port on 127.0.0.1 and launches the accept
// loop. The returned error wraps [domain.ErrBind] when the listener cannot
// be created.
func (s *FileServer) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBind, err)
	}
	s.ln = ln
	s.logger.Info("file server listening",
		"share_id", s.responder.Share.ID,
		"addr", ln.Addr().String(),
		"max_conns", s.cfg.MaxConns)

	go s.acceptLoop()
	go s.sweepLimiter()
	return nil
}

// Port returns the bound port.
func (s *FileServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Stop closes the listener so the accept loop exits promptly. In-flight
// connections are not force-cancelled; each one runs out against its own
// deadline. Stop is idempotent.
func (s *FileServer) Stop() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
}

// Done is closed once the accept loop has exited.
func (s *FileServer) Done() <-chan struct{} {
	return s.done
}

// ActiveConns returns the number of connections currently being served.
func (s *FileServer) ActiveConns() int {
	return int(s.active.Load())
}

func (s *FileServer) acceptLoop() {
	defer close(s.done)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "share_id", s.responder.Share.ID, "err", err)
			return
		}

		ip := netutil.RemoteIP(conn.RemoteAddr())
		if !s.limiter.allow(ip) {
			s.logger.Warn("connection dropped",
				"share_id", s.responder.Share.ID,
				"remote_ip", ip,
				"err", domain.ErrRateLimited)
			_ = conn.Close()
			continue
		}
		if int(s.active.Load()) >= s.cfg.MaxConns {
			s.logger.Warn("connection dropped",
				"share_id", s.responder.Share.ID,
				"remote_ip", ip,
				"active", s.active.Load(),
				"err", domain.ErrRateLimited)
			_ = conn.Close()
			continue
		}

		s.active.Add(1)
		go s.handleConn(conn)
	}
}

func (s *FileServer) handleConn(conn net.Conn) {
	defer s.active.Add(-1)
	defer func() { _ = conn.Close() }()

	// One deadline covers the whole exchange; hitting it surfaces as a
	// read/write error and the connection is abandoned.
	_ = conn.SetDeadline(time.Now().Add(s.cfg.ConnTimeout))

	if err := s.responder.Respond(conn); err != nil {
		if netErr, ok := errAsNet(err); ok && netErr.Timeout() {
			s.logger.Debug("connection abandoned",
				"share_id", s.responder.Share.ID,
				"err", domain.ErrRequestTimeout)
			return
		}
		s.logger.Debug("connection error", "share_id", s.responder.Share.ID, "err", err)
	}
}

func errAsNet(err error) (net.Error, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr, true
	}
	return nil, false
}

// sweepLimiter periodically evicts idle per-source limiter entries so the
// hot accept path never iterates the maps.
func (s *FileServer) sweepLimiter() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.limiter.cleanup()
		}
	}
}
