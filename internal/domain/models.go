// Package domain defines the core data types shared across the parcel
// share manager, file server, and tunnel supervision layers.
package domain

import (
	"sync/atomic"
	"time"
)

// Share state constants describe the lifecycle of a share session.
const (
	ShareStateConnecting   = "connecting"
	ShareStateConnected    = "connected"
	ShareStateError        = "error"
	ShareStateDisconnected = "disconnected"
)

// Share is the immutable identity of one share session: the served file,
// the local port, the tunnel provider, and the session credentials.
// Token and PasswordHash never leave the process: they are excluded from
// [ShareStatus], the control API, the history store, and logs.
type Share struct {
	ID           string
	FilePath     string
	FileName     string
	FileSize     int64
	Port         int
	Provider     string
	Token        string
	PasswordHash string // empty when the share has no password
	CreatedAt    time.Time
}

// Protected reports whether downloads require a password.
func (s *Share) Protected() bool {
	return s.PasswordHash != ""
}

// ShareRecord is the credential-free subset of a share handed to the
// history store. Token and password hash stay out by construction.
type ShareRecord struct {
	ID        string
	FileName  string
	FilePath  string
	FileSize  int64
	Provider  string
	Protected bool
	CreatedAt time.Time
}

// Record returns the persistable view of the share.
func (s *Share) Record() ShareRecord {
	return ShareRecord{
		ID:        s.ID,
		FileName:  s.FileName,
		FilePath:  s.FilePath,
		FileSize:  s.FileSize,
		Provider:  s.Provider,
		Protected: s.Protected(),
		CreatedAt: s.CreatedAt,
	}
}

// HistoryEntry is one share history row. StoppedAt is nil while the share
// is live or when the process exited before finalizing it.
type HistoryEntry struct {
	ID          string     `json:"id"`
	FileName    string     `json:"file_name"`
	FilePath    string     `json:"file_path"`
	FileSize    int64      `json:"file_size"`
	Provider    string     `json:"provider"`
	Protected   bool       `json:"protected"`
	PublicURL   string     `json:"public_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	Completions int64      `json:"completions"`
	BytesSent   int64      `json:"bytes_sent"`
}

// ShareStatus is the externally visible snapshot of a live share: identity
// plus fresh counter reads, without any credential material.
type ShareStatus struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	FilePath    string    `json:"file_path"`
	FileSize    int64     `json:"file_size"`
	Port        int       `json:"port"`
	Provider    string    `json:"provider"`
	Protected   bool      `json:"protected"`
	PublicURL   string    `json:"public_url,omitempty"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	Completions int64     `json:"completions"`
	BytesSent   int64     `json:"bytes_sent"`
}

// Counters holds the live download statistics of one share. The streaming
// responder is the only writer; status queries read concurrently.
type Counters struct {
	completions atomic.Int64
	bytesSent   atomic.Int64
}

// AddBytes adds n streamed bytes and returns the new cumulative total.
func (c *Counters) AddBytes(n int64) int64 {
	return c.bytesSent.Add(n)
}

// AddCompletion records one finished full-file transfer and returns the
// new completion count.
func (c *Counters) AddCompletion() int64 {
	return c.completions.Add(1)
}

// Snapshot returns the current completion count and cumulative bytes.
func (c *Counters) Snapshot() (completions, bytesSent int64) {
	return c.completions.Load(), c.bytesSent.Load()
}
