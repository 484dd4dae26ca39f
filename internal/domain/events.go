package domain

// StatusEvent reports a share session lifecycle change to the host
// application: connecting, connected (with the public URL), error (with the
// offending agent output line), or disconnected.
type StatusEvent struct {
	ShareID   string `json:"share_id"`
	State     string `json:"state"`
	PublicURL string `json:"public_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProgressEvent reports download progress for one share. Completed marks the
// event emitted when a full, non-ranged transfer finishes. Consumers must
// treat Completions and BytesSent as the source of truth; no ordering is
// guaranteed across events from different peers.
type ProgressEvent struct {
	ShareID     string `json:"share_id"`
	Completions int64  `json:"completions"`
	BytesSent   int64  `json:"bytes_sent"`
	Completed   bool   `json:"completed,omitempty"`
}

// EventSink receives status and progress events. Implementations must be
// safe for concurrent use and must not block: events are emitted from the
// streaming path.
type EventSink interface {
	Status(StatusEvent)
	Progress(ProgressEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Status(StatusEvent)     {}
func (NopSink) Progress(ProgressEvent) {}

// MultiSink fans every event out to all member sinks in order.
type MultiSink []EventSink

func (m MultiSink) Status(e StatusEvent) {
	for _, s := range m {
		s.Status(e)
	}
}

func (m MultiSink) Progress(e ProgressEvent) {
	for _, s := range m {
		s.Progress(e)
	}
}
