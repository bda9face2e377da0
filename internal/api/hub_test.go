package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kvkushal/hls-stream-ops/internal/incident"
	"github.com/kvkushal/hls-stream-ops/internal/monitor"
)

func dialStream(t *testing.T, srv *httptest.Server, streamID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/streams/" + streamID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	r := chi.NewRouter()
	r.Get("/ws/streams/{id}", hub.ServeStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func waitForCount(t *testing.T, hub *Hub, streamID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count(streamID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Count(%s) = %d, want %d", streamID, hub.Count(streamID), want)
}

func TestHub_NotifyDeliversToSubscribers(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := dialStream(t, srv, "stream-1")
	defer conn.Close()
	waitForCount(t, hub, "stream-1", 1)

	hub.Notify("stream-1", "health_change", map[string]string{"from": "green", "to": "red"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.StreamID != "stream-1" || ev.Event != "health_change" {
		t.Errorf("event = %+v", ev)
	}
}

// TestHub_NotifyScopedToStream verifies a client only receives events for
// the stream it subscribed to.
func TestHub_NotifyScopedToStream(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := dialStream(t, srv, "stream-1")
	defer conn.Close()
	waitForCount(t, hub, "stream-1", 1)

	hub.Notify("stream-2", "health_change", nil)
	hub.Notify("stream-1", "incident_opened", nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Event != "incident_opened" {
		t.Errorf("first delivered event = %q, want incident_opened (other stream's event leaked)", ev.Event)
	}
}

// TestHub_UpgradeThroughRouter dials through the full route tree. The
// upgrade hijacks the connection behind the request-logging middleware, so
// the wrapper must forward http.Hijacker.
func TestHub_UpgradeThroughRouter(t *testing.T) {
	hub := NewHub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inc := incident.NewManager(logger)
	sup := monitor.New(monitor.Config{
		PollInterval: time.Hour,
		Logger:       logger,
		Fetcher:      stubFetcher{},
		Incidents:    inc,
		Sink:         hub,
	})
	h := NewHandler(sup, inc, nil, hub, logger)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv, "stream-1")
	defer conn.Close()
	waitForCount(t, hub, "stream-1", 1)

	hub.Notify("stream-1", "health_change", nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Event != "health_change" {
		t.Errorf("event = %q, want health_change", ev.Event)
	}
}

// TestHub_NotifyDuringDisconnect churns connects and disconnects while a
// notifier runs flat out. The send path must never hit a closed channel.
func TestHub_NotifyDuringDisconnect(t *testing.T) {
	hub, srv := newHubServer(t)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				hub.Notify("stream-1", "segment", nil)
			}
		}
	}()

	for i := 0; i < 25; i++ {
		conn := dialStream(t, srv, "stream-1")
		// Never read, so the buffer fills and slow-client eviction races
		// the disconnect teardown.
		time.Sleep(2 * time.Millisecond)
		conn.Close()
	}

	close(stop)
	<-done
}

func TestHub_UnsubscribeOnDisconnect(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := dialStream(t, srv, "stream-1")
	waitForCount(t, hub, "stream-1", 1)

	conn.Close()
	waitForCount(t, hub, "stream-1", 0)

	// Notifying with no subscribers is a no-op.
	hub.Notify("stream-1", "health_change", nil)
}

func TestHub_NotifyNeverBlocks(t *testing.T) {
	hub := NewHub()

	// No server, no clients: a burst of notifies must return immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Notify("stream-1", "segment", map[string]int{"i": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked with no subscribers")
	}
}

func TestHub_Close(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := dialStream(t, srv, "stream-1")
	defer conn.Close()
	waitForCount(t, hub, "stream-1", 1)

	hub.Close()
	if got := hub.Count("stream-1"); got != 0 {
		t.Errorf("Count() after Close = %d, want 0", got)
	}

	// Connection is closed from the server side.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() after Close = nil error, want closed connection")
	}
}
