package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/parcel/internal/domain"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Subscribe(conn)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type  string          `json:"type"`
		Event json.RawMessage `json:"event"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	return msg.Type, msg.Event
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", want, hub.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastsStatusAndProgress(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	waitForSubscribers(t, hub, 1)

	hub.Status(domain.StatusEvent{
		ShareID:   "share-1",
		State:     domain.ShareStateConnected,
		PublicURL: "https://funky-tiger.trycloudflare.com/tok",
	})
	hub.Progress(domain.ProgressEvent{
		ShareID:     "share-1",
		Completions: 1,
		BytesSent:   2048,
		Completed:   true,
	})

	typ, raw := readEnvelope(t, conn)
	if typ != "status" {
		t.Fatalf("expected status envelope, got %q", typ)
	}
	var status domain.StatusEvent
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatal(err)
	}
	if status.ShareID != "share-1" || status.State != domain.ShareStateConnected {
		t.Fatalf("unexpected status event: %+v", status)
	}
	if status.PublicURL != "https://funky-tiger.trycloudflare.com/tok" {
		t.Fatalf("unexpected public url: %q", status.PublicURL)
	}

	typ, raw = readEnvelope(t, conn)
	if typ != "progress" {
		t.Fatalf("expected progress envelope, got %q", typ)
	}
	var progress domain.ProgressEvent
	if err := json.Unmarshal(raw, &progress); err != nil {
		t.Fatal(err)
	}
	if progress.Completions != 1 || progress.BytesSent != 2048 || !progress.Completed {
		t.Fatalf("unexpected progress event: %+v", progress)
	}
}

func TestHubFanOut(t *testing.T) {
	hub, srv := newHubServer(t)
	first := dialHub(t, srv)
	second := dialHub(t, srv)
	waitForSubscribers(t, hub, 2)

	hub.Status(domain.StatusEvent{ShareID: "share-2", State: domain.ShareStateConnecting})

	for _, conn := range []*websocket.Conn{first, second} {
		typ, raw := readEnvelope(t, conn)
		if typ != "status" {
			t.Fatalf("expected status envelope, got %q", typ)
		}
		var status domain.StatusEvent
		if err := json.Unmarshal(raw, &status); err != nil {
			t.Fatal(err)
		}
		if status.ShareID != "share-2" {
			t.Fatalf("expected share-2, got %q", status.ShareID)
		}
	}
}

func TestHubDropsDisconnectedSubscriber(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	waitForSubscribers(t, hub, 1)

	_ = conn.Close()
	waitForSubscribers(t, hub, 0)

	// Broadcasting into an empty hub is a no-op, not a panic.
	hub.Progress(domain.ProgressEvent{ShareID: "share-3", BytesSent: 1})
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	waitForSubscribers(t, hub, 1)

	hub.Close()
	waitForSubscribers(t, hub, 0)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read to fail after hub close")
	}
}
