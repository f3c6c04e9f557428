package statusfeed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/chaz8081/pacinglights/internal/session"
)

type fakeSource struct {
	mu     sync.Mutex
	state  session.State
	link   session.LinkState
	active *session.Session
	events chan session.LinkEvent
	subs   int
	unsubs int
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan session.LinkEvent, 4)}
}

func (f *fakeSource) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Link() session.LinkState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.link
}

func (f *fakeSource) Active() (session.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return session.Session{}, false
	}
	return *f.active, true
}

func (f *fakeSource) Subscribe() (<-chan session.LinkEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs++
	return f.events, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubs++
	}
}

func (f *fakeSource) unsubscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubs
}

func (f *fakeSource) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

func TestStatusEndpoint(t *testing.T) {
	src := newFakeSource()
	src.state = session.Ready
	src.link = session.LinkState{Connected: true}
	src.active = &session.Session{ID: 3, Device: session.Descriptor{ID: "AA", Name: "Pacer-1", RSSI: -48}}

	srv := httptest.NewServer(NewHandler(src, zaptest.NewLogger(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if got.State != "ready" || !got.Connected || got.Color != "#2E7D32" {
		t.Errorf("status = %+v, want ready/connected/green", got)
	}
	if got.Device == nil || got.Device.ID != "AA" || got.Device.Name != "Pacer-1" {
		t.Errorf("device = %+v, want AA", got.Device)
	}
	if got.Event != "" {
		t.Errorf("snapshot should carry no event, got %q", got.Event)
	}
}

func TestStatusEndpointIdle(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newFakeSource(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status error = %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if raw["color"] != "#FFFFFF" {
		t.Errorf("color = %v, want #FFFFFF", raw["color"])
	}
	if _, ok := raw["device"]; ok {
		t.Error("idle status should omit device")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newFakeSource(), nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /status error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want 405", resp.StatusCode)
	}
}

func TestWebsocketStream(t *testing.T) {
	src := newFakeSource()
	srv := httptest.NewServer(NewHandler(src, zaptest.NewLogger(t)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck

	var first Status
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON(snapshot) error = %v", err)
	}
	if first.State != "idle" || first.Connected {
		t.Errorf("snapshot = %+v, want idle", first)
	}
	if src.subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", src.subscribers())
	}

	src.events <- session.LinkEvent{
		Kind:   session.LinkLost,
		Link:   session.LinkState{LastDisconnectWasUnexpected: true},
		State:  session.Closed,
		Device: session.Descriptor{ID: "AA", Name: "Pacer-1"},
	}

	var pushed Status
	if err := conn.ReadJSON(&pushed); err != nil {
		t.Fatalf("ReadJSON(event) error = %v", err)
	}
	if pushed.Event != "lost" || pushed.State != "closed" || pushed.Color != "#D32F2F" {
		t.Errorf("pushed = %+v, want lost/closed/red", pushed)
	}
	if pushed.Device == nil || pushed.Device.ID != "AA" {
		t.Errorf("pushed device = %+v, want AA", pushed.Device)
	}

	close(src.events)
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going-away close", err)
	}
}

func TestWebsocketClientGoneEndsStream(t *testing.T) {
	src := newFakeSource()
	srv := httptest.NewServer(NewHandler(src, zaptest.NewLogger(t)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var first Status
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON(snapshot) error = %v", err)
	}
	conn.Close()

	// Well inside the ping interval: the stream must notice on its own.
	deadline := time.Now().Add(2 * time.Second)
	for src.unsubscribed() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("stream did not unsubscribe after the client went away")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
