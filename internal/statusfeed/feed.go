// Package statusfeed serves the link status to an external display over
// HTTP: a JSON snapshot and a websocket stream of link events.
package statusfeed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chaz8081/pacinglights/internal/session"
)

// Source is the part of the session manager the feed reads.
type Source interface {
	State() session.State
	Link() session.LinkState
	Active() (session.Session, bool)
	Subscribe() (<-chan session.LinkEvent, func())
}

// Status is the JSON document served by /status and pushed on /ws.
type Status struct {
	Event                       string  `json:"event,omitempty"` // up, closed or lost; pushes only
	State                       string  `json:"state"`
	Connected                   bool    `json:"connected"`
	LastDisconnectWasUnexpected bool    `json:"last_disconnect_was_unexpected"`
	Color                       string  `json:"color"`
	Device                      *Device `json:"device,omitempty"`
}

// Device describes the controller a status refers to.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	RSSI int    `json:"rssi"`
}

func newStatus(state session.State, link session.LinkState) Status {
	return Status{
		State:                       state.String(),
		Connected:                   link.Connected,
		LastDisconnectWasUnexpected: link.LastDisconnectWasUnexpected,
		Color:                       string(session.Status(link)),
	}
}

func deviceOf(d session.Descriptor) *Device {
	return &Device{ID: d.ID, Name: d.Name, RSSI: d.RSSI}
}

func snapshot(src Source) Status {
	st := newStatus(src.State(), src.Link())
	if s, ok := src.Active(); ok {
		st.Device = deviceOf(s.Device)
	}
	return st
}

func fromEvent(ev session.LinkEvent) Status {
	st := newStatus(ev.State, ev.Link)
	st.Event = ev.Kind.String()
	st.Device = deviceOf(ev.Device)
	return st
}

const (
	pingInterval = 20 * time.Second
	pongWait     = 3 * pingInterval
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

type server struct {
	src Source
	log *zap.Logger
}

// NewHandler wires GET /status and GET /ws.
func NewHandler(src Source, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &server{src: src, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.status)
	mux.HandleFunc("GET /ws", s.stream)
	return withLogging(log, mux)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshot(s.src))
}

// stream sends the current status, then one message per link event.
func (s *server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("statusfeed: ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsub := s.src.Subscribe()
	defer unsub()

	if err := conn.WriteJSON(snapshot(s.src)); err != nil {
		s.log.Debug("statusfeed: ws write", zap.Error(err))
		return
	}

	// Reading is how a dropped peer or its close frame is noticed.
	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("statusfeed: ws read", zap.Error(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(fromEvent(ev)); err != nil {
				s.log.Debug("statusfeed: ws write", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Serve runs the feed on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info("statusfeed: listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("statusfeed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.code),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("statusfeed: response does not support hijacking")
	}
	rw.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
