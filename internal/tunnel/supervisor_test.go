package tunnel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koltyakov/parcel/internal/domain"
)

// stubProvider runs a shell one-liner in place of a real tunnel agent.
type stubProvider struct {
	script string
}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Binary() string { return "sh" }

func (p stubProvider) Args(port int) []string {
	return []string{"-c", fmt.Sprintf(p.script, port)}
}

func (stubProvider) PublicAddr(line string) (string, bool) {
	if addr, ok := strings.CutPrefix(line, "public: "); ok {
		return addr, true
	}
	return "", false
}

type statusRecorder struct {
	mu     sync.Mutex
	events []domain.StatusEvent
}

func (r *statusRecorder) Status(e domain.StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *statusRecorder) Progress(domain.ProgressEvent) {}

func (r *statusRecorder) byState(state string) []domain.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.StatusEvent
	for _, e := range r.events {
		if e.State == state {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub agent needs sh")
	}
}

func TestSupervisorMissingBinary(t *testing.T) {
	sup := &Supervisor{
		Provider: stubProvider{},
		// A name that cannot be on anyone's PATH.
		BinaryPath: "parcel-test-no-such-agent-binary",
		Logger:     testLogger(),
	}
	if _, err := sup.Start("share-1", 4321); !errors.Is(err, domain.ErrAgentMissing) {
		t.Fatalf("expected missing agent error, got %v", err)
	}
}

func TestSupervisorDeliversPublicAddr(t *testing.T) {
	requireSh(t)

	sink := &statusRecorder{}
	sup := &Supervisor{
		Provider: stubProvider{script: `echo starting agent on %d; echo "public: http://stub.example:1234"; exec sleep 5`},
		Sink:     sink,
		Logger:   testLogger(),
	}
	agent, err := sup.Start("share-1", 4321)
	if err != nil {
		t.Fatal(err)
	}
	defer agent.Stop()

	if agent.PID() <= 0 {
		t.Fatalf("expected live pid, got %d", agent.PID())
	}

	select {
	case addr := <-agent.URL():
		if addr != "http://stub.example:1234" {
			t.Fatalf("expected stub address, got %q", addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for public address")
	}
}

func TestSupervisorFirstAddressWins(t *testing.T) {
	requireSh(t)

	sup := &Supervisor{
		Provider: stubProvider{script: `echo "public: http://first.example:%d"; echo "public: http://second.example:9"; exec sleep 5`},
		Logger:   testLogger(),
	}
	agent, err := sup.Start("share-1", 1111)
	if err != nil {
		t.Fatal(err)
	}
	defer agent.Stop()

	select {
	case addr := <-agent.URL():
		if addr != "http://first.example:1111" {
			t.Fatalf("expected first address to win, got %q", addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for public address")
	}

	// No second delivery.
	select {
	case addr := <-agent.URL():
		t.Fatalf("expected single delivery, got second address %q", addr)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSupervisorEmitsErrorEvents(t *testing.T) {
	requireSh(t)

	sink := &statusRecorder{}
	sup := &Supervisor{
		Provider: stubProvider{script: `echo "connection failed: relay unreachable" >&2; echo "public: http://stub.example:%d"; exec sleep 5`},
		Sink:     sink,
		Logger:   testLogger(),
	}
	agent, err := sup.Start("share-err", 2222)
	if err != nil {
		t.Fatal(err)
	}
	defer agent.Stop()

	select {
	case <-agent.URL():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for public address")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if errs := sink.byState(domain.ShareStateError); len(errs) > 0 {
			if errs[0].ShareID != "share-err" {
				t.Fatalf("expected share-err, got %q", errs[0].ShareID)
			}
			if !strings.Contains(errs[0].Error, "failed") {
				t.Fatalf("expected failure line in event, got %q", errs[0].Error)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for error status event")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSupervisorAgentExitEmitsDisconnected(t *testing.T) {
	requireSh(t)

	sink := &statusRecorder{}
	sup := &Supervisor{
		Provider: stubProvider{script: `echo "public: http://stub.example:%d"`},
		Sink:     sink,
		Logger:   testLogger(),
	}
	agent, err := sup.Start("share-exit", 3333)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-agent.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for agent exit")
	}
	if agent.Err() != nil {
		t.Fatalf("expected clean exit, got %v", agent.Err())
	}
	if got := sink.byState(domain.ShareStateDisconnected); len(got) != 1 {
		t.Fatalf("expected 1 disconnected event, got %d", len(got))
	}
}

func TestSupervisorStopTerminatesAgent(t *testing.T) {
	requireSh(t)

	sink := &statusRecorder{}
	sup := &Supervisor{
		Provider: stubProvider{script: `echo "public: http://stub.example:%d"; exec sleep 30`},
		Sink:     sink,
		Logger:   testLogger(),
	}
	agent, err := sup.Start("share-stop", 4444)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-agent.URL():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for public address")
	}

	start := time.Now()
	agent.Stop()
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("expected prompt termination, took %s", elapsed)
	}

	select {
	case <-agent.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after stop")
	}

	// A deliberate stop is not reported as a disconnect.
	if got := sink.byState(domain.ShareStateDisconnected); len(got) != 0 {
		t.Fatalf("expected no disconnected event on stop, got %d", len(got))
	}

	// Stop again is a no-op.
	agent.Stop()
}
