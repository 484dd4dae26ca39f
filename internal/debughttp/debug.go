// Package debughttp serves the optional local debug listener: the standard
// pprof handlers plus a JSON snapshot of the live shares.
package debughttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	httppprof "net/http/pprof"
	"strings"
	"time"

	"github.com/koltyakov/parcel/internal/domain"
)

const shutdownTimeout = 5 * time.Second

// SharesFunc supplies the live-share snapshot served at /debug/shares.
// ShareStatus carries no credential material, so the snapshot is safe to
// put on a local debug listener.
type SharesFunc func() []domain.ShareStatus

// Start runs the debug HTTP server on addr and shuts it down when ctx is
// canceled. It returns once the listener is bound so address conflicts
// fail fast. An empty addr disables the server.
func Start(ctx context.Context, addr string, shares SharesFunc, log *slog.Logger) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           newDebugMux(shares),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if log != nil {
			log.Info("debug server listening", "addr", ln.Addr().String())
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && log != nil {
			log.Error("debug server error", "err", err)
		}
	}()

	return nil
}

func newDebugMux(shares SharesFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
	mux.HandleFunc("/debug/shares", func(w http.ResponseWriter, _ *http.Request) {
		snapshot := []domain.ShareStatus{}
		if shares != nil {
			snapshot = shares()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	})
	return mux
}
