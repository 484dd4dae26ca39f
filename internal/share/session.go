package share

import (
	"sync"

	"github.com/koltyakov/parcel/internal/domain"
	"github.com/koltyakov/parcel/internal/server"
	"github.com/koltyakov/parcel/internal/tunnel"
)

// session is one live share: the immutable share identity plus the running
// file server and tunnel agent, and the mutable connection state.
type session struct {
	share    *domain.Share
	counters *domain.Counters
	server   *server.FileServer
	agent    *tunnel.Agent

	// urlDone closes once URL resolution has finished, successfully or
	// not, so StartShare can stop waiting.
	urlDone chan struct{}

	mu        sync.RWMutex
	publicURL string
	state     string
}

func (s *session) setConnected(publicURL string) {
	s.mu.Lock()
	s.publicURL = publicURL
	s.state = domain.ShareStateConnected
	s.mu.Unlock()
}

func (s *session) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// snapshot builds the externally visible status with fresh counter reads.
func (s *session) snapshot() domain.ShareStatus {
	s.mu.RLock()
	publicURL, state := s.publicURL, s.state
	s.mu.RUnlock()
	completions, bytesSent := s.counters.Snapshot()

	return domain.ShareStatus{
		ID:          s.share.ID,
		FileName:    s.share.FileName,
		FilePath:    s.share.FilePath,
		FileSize:    s.share.FileSize,
		Port:        s.share.Port,
		Provider:    s.share.Provider,
		Protected:   s.share.Protected(),
		PublicURL:   publicURL,
		State:       state,
		CreatedAt:   s.share.CreatedAt,
		Completions: completions,
		BytesSent:   bytesSent,
	}
}
