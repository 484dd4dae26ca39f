// Package share orchestrates share sessions: it allocates the local port,
// starts the file server and the tunnel agent, composes the public URL,
// and owns the registry of live shares.
package share

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koltyakov/parcel/internal/auth"
	"github.com/koltyakov/parcel/internal/domain"
	"github.com/koltyakov/parcel/internal/netutil"
	"github.com/koltyakov/parcel/internal/pack"
	"github.com/koltyakov/parcel/internal/server"
	"github.com/koltyakov/parcel/internal/tunnel"
)

// DefaultURLWait bounds how long StartShare blocks for the agent to print
// the public address. A share without a URL yet is still returned; the URL
// is filled in when it arrives.
const DefaultURLWait = 30 * time.Second

// HistoryStore records share lifecycles for later listing. Implementations
// never see the token or the password hash. All methods are best effort
// from the manager's point of view: failures are logged, not fatal.
type HistoryStore interface {
	RecordShare(ctx context.Context, rec domain.ShareRecord) error
	SetPublicURL(ctx context.Context, shareID, publicURL string) error
	FinishShare(ctx context.Context, shareID string, completions, bytesSent int64) error
}

// Config carries the manager-wide settings; per-share settings travel in
// [Options].
type Config struct {
	Provider    string // default tunnel provider name
	AgentPath   string // explicit agent binary path, empty for PATH lookup
	URLWait     time.Duration
	MaxConns    int
	ConnTimeout time.Duration

	// ResolveProvider maps a provider name to an implementation.
	// Defaults to [tunnel.ByName].
	ResolveProvider func(name string) (tunnel.Provider, error)
}

func (c Config) withDefaults() Config {
	if c.URLWait <= 0 {
		c.URLWait = DefaultURLWait
	}
	if c.ResolveProvider == nil {
		c.ResolveProvider = tunnel.ByName
	}
	return c
}

// Options are the per-share knobs of StartShare.
type Options struct {
	DisplayName string // overrides the file's base name
	Password    string // empty shares without password protection
	Provider    string // overrides the manager default
	Port        int    // 0 picks an ephemeral port
}

// Manager owns all live shares of one process.
type Manager struct {
	cfg       Config
	sink      domain.EventSink
	history   HistoryStore
	manifests *pack.ManifestCache
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// New builds a manager. sink must not be nil (use [domain.NopSink]);
// history may be nil to disable share history.
func New(cfg Config, sink domain.EventSink, history HistoryStore, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		sink:      sink,
		history:   history,
		manifests: pack.NewManifestCache(),
		logger:    logger,
		sessions:  make(map[string]*session),
	}
}

// StartShare makes one packaged file publicly reachable: it stats the
// package, generates the session credentials, binds the local server,
// spawns the tunnel agent, and waits up to the configured window for the
// public URL. The returned status carries the URL when it arrived in time;
// otherwise the share keeps running and the URL is delivered through a
// later status event.
func (m *Manager) StartShare(ctx context.Context, filePath string, opts Options) (domain.ShareStatus, error) {
	file, err := pack.Stat(filePath, opts.DisplayName)
	if err != nil {
		return domain.ShareStatus{}, &domain.ShareError{Op: "stat", Err: err}
	}

	providerName := opts.Provider
	if providerName == "" {
		providerName = m.cfg.Provider
	}
	provider, err := m.cfg.ResolveProvider(providerName)
	if err != nil {
		return domain.ShareStatus{}, &domain.ShareError{Op: "provider", Err: err}
	}

	id := uuid.NewString()
	token, err := auth.GenerateToken()
	if err != nil {
		return domain.ShareStatus{}, &domain.ShareError{ShareID: id, Op: "token", Err: err}
	}

	port := opts.Port
	if port == 0 {
		port, err = netutil.AllocatePort()
		if err != nil {
			return domain.ShareStatus{}, &domain.ShareError{ShareID: id, Op: "allocate", Err: err}
		}
	}

	sh := &domain.Share{
		ID:        id,
		FilePath:  file.Path,
		FileName:  file.Name,
		FileSize:  file.Size,
		Port:      port,
		Provider:  provider.Name(),
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
	if opts.Password != "" {
		sh.PasswordHash = auth.HashPassword(opts.Password, id)
	}

	counters := &domain.Counters{}
	srv := server.New(server.Config{
		Port:        port,
		MaxConns:    m.cfg.MaxConns,
		ConnTimeout: m.cfg.ConnTimeout,
	}, &server.Responder{
		Share:     sh,
		Counters:  counters,
		Manifests: m.manifests,
		Sink:      m.sink,
		Logger:    m.logger,
	}, m.logger)
	if err := srv.Start(); err != nil {
		return domain.ShareStatus{}, &domain.ShareError{ShareID: id, Op: "serve", Err: err}
	}

	sup := &tunnel.Supervisor{
		Provider:   provider,
		BinaryPath: m.cfg.AgentPath,
		Sink:       m.sink,
		Logger:     m.logger,
	}
	agent, err := sup.Start(id, port)
	if err != nil {
		srv.Stop()
		return domain.ShareStatus{}, &domain.ShareError{ShareID: id, Op: "tunnel", Err: err}
	}

	sess := &session{
		share:    sh,
		counters: counters,
		server:   srv,
		agent:    agent,
		urlDone:  make(chan struct{}),
		state:    domain.ShareStateConnecting,
	}
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.logger.Info("share started",
		"share_id", id,
		"file", file.Name,
		"size", file.Size,
		"port", port,
		"provider", provider.Name(),
		"protected", sh.Protected())
	m.sink.Status(domain.StatusEvent{ShareID: id, State: domain.ShareStateConnecting})
	if m.history != nil {
		if err := m.history.RecordShare(ctx, sh.Record()); err != nil {
			m.logger.Warn("history record failed", "share_id", id, "err", err)
		}
	}

	go m.watchAgent(sess)

	select {
	case <-sess.urlDone:
	case <-ctx.Done():
	case <-time.After(m.cfg.URLWait):
		m.logger.Warn("no public URL yet, share stays up", "share_id", id, "wait", m.cfg.URLWait)
	}
	return sess.snapshot(), nil
}

// watchAgent resolves the public URL from the agent's output and tracks
// the agent's lifetime for the session state.
func (m *Manager) watchAgent(sess *session) {
	id := sess.share.ID

	select {
	case base := <-sess.agent.URL():
		publicURL := strings.TrimSuffix(base, "/") + "/" + sess.share.Token
		sess.setConnected(publicURL)
		close(sess.urlDone)

		m.logger.Info("share connected", "share_id", id, "public_url", publicURL)
		m.sink.Status(domain.StatusEvent{
			ShareID:   id,
			State:     domain.ShareStateConnected,
			PublicURL: publicURL,
		})
		if m.history != nil {
			if err := m.history.SetPublicURL(context.Background(), id, publicURL); err != nil {
				m.logger.Warn("history update failed", "share_id", id, "err", err)
			}
		}
	case <-sess.agent.Done():
		sess.setState(domain.ShareStateDisconnected)
		close(sess.urlDone)
		return
	}

	<-sess.agent.Done()
	sess.setState(domain.ShareStateDisconnected)
}

// StopShare tears one share down: the local server stops accepting, then
// the tunnel agent is terminated. Stopping an unknown or already stopped
// share reports [domain.ErrShareNotFound].
func (m *Manager) StopShare(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return &domain.ShareError{ShareID: id, Op: "stop", Err: domain.ErrShareNotFound}
	}

	sess.server.Stop()
	sess.agent.Stop()

	completions, bytesSent := sess.counters.Snapshot()
	if m.history != nil {
		if err := m.history.FinishShare(ctx, id, completions, bytesSent); err != nil {
			m.logger.Warn("history finish failed", "share_id", id, "err", err)
		}
	}
	m.logger.Info("share stopped",
		"share_id", id,
		"completions", completions,
		"bytes_sent", bytesSent)
	m.sink.Status(domain.StatusEvent{ShareID: id, State: domain.ShareStateDisconnected})
	return nil
}

// StopAllShares stops every live share. Shares that disappear concurrently
// are not errors.
func (m *Manager) StopAllShares(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.StopShare(ctx, id); err != nil && !errors.Is(err, domain.ErrShareNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Share returns the status of one live share.
func (m *Manager) Share(id string) (domain.ShareStatus, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return domain.ShareStatus{}, &domain.ShareError{ShareID: id, Op: "status", Err: domain.ErrShareNotFound}
	}
	return sess.snapshot(), nil
}

// ActiveShares lists all live shares with fresh counter reads, oldest
// first.
func (m *Manager) ActiveShares() []domain.ShareStatus {
	m.mu.RLock()
	out := make([]domain.ShareStatus, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live shares.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
