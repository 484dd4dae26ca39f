// Package control serves the local management API for a share manager:
// share CRUD over JSON plus a websocket event feed. It binds to localhost
// only; the API starts and stops shares and must never be reachable from
// outside the machine.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/parcel/internal/domain"
	"github.com/koltyakov/parcel/internal/events"
	"github.com/koltyakov/parcel/internal/share"
)

// DefaultAddr is where the control API listens unless configured otherwise.
const DefaultAddr = "127.0.0.1:7070"

const maxBodyBytes = 1 << 20

// wsUpgrader admits non-browser clients (no Origin header) and same-machine
// pages. Foreign origins are rejected so web pages cannot subscribe to the
// event feed through the browser.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		switch u.Hostname() {
		case "127.0.0.1", "localhost", "::1":
			return true
		}
		return false
	},
}

// API exposes one share manager over HTTP.
type API struct {
	manager *share.Manager
	hub     *events.Hub
	logger  *slog.Logger
}

// New builds the control API. hub receives the event feed subscribers and
// must be wired as (one of) the manager's event sinks by the caller.
func New(manager *share.Manager, hub *events.Hub, logger *slog.Logger) *API {
	return &API{manager: manager, hub: hub, logger: logger}
}

// Handler returns the routing handler for the control API.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/shares", a.handleShares)
	mux.HandleFunc("/api/shares/", a.handleShareByID)
	mux.HandleFunc("/api/events", a.handleEvents)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves the control API on addr until ctx is cancelled or the listener
// fails.
func (a *API) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting control API", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("control api: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return shutdownServer(srv, 5*time.Second)
	case err := <-errCh:
		return err
	}
}

// startRequest is the POST /api/shares body. The password is accepted here
// and hashed immediately by the manager; it is never echoed back.
type startRequest struct {
	File     string `json:"file"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
	Password string `json:"password,omitempty"`
	Port     int    `json:"port,omitempty"`
}

func (a *API) handleShares(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.manager.ActiveShares())
	case http.MethodPost:
		a.handleStartShare(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleStartShare(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.File) == "" {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}

	status, err := a.manager.StartShare(r.Context(), req.File, share.Options{
		DisplayName: req.Name,
		Password:    req.Password,
		Provider:    req.Provider,
		Port:        req.Port,
	})
	if err != nil {
		a.logger.Error("start share failed", "err", err)
		http.Error(w, err.Error(), startErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

// startErrorStatus maps StartShare failures onto HTTP statuses: caller
// mistakes (bad path, unknown provider) are 400s, a broken local
// environment (no agent binary, spawn or bind failure) is a 502.
func startErrorStatus(err error) int {
	if errors.Is(err, os.ErrNotExist) {
		return http.StatusBadRequest
	}
	if errors.Is(err, domain.ErrAgentMissing) || errors.Is(err, domain.ErrTunnelSpawn) || errors.Is(err, domain.ErrBind) {
		return http.StatusBadGateway
	}
	var shareErr *domain.ShareError
	if errors.As(err, &shareErr) {
		switch shareErr.Op {
		case "stat", "provider":
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func (a *API) handleShareByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/shares/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		status, err := a.manager.Share(id)
		if err != nil {
			http.Error(w, "share not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodDelete:
		if err := a.manager.StopShare(r.Context(), id); err != nil {
			if errors.Is(err, domain.ErrShareNotFound) {
				http.Error(w, "share not found", http.StatusNotFound)
				return
			}
			a.logger.Error("stop share failed", "share_id", id, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	a.hub.Subscribe(conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
