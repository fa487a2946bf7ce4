// Package server exposes the live view: an embedded page, a websocket that
// streams CBOR display frames and accepts polygon edits, and a few JSON
// endpoints for status, configuration and recorded sessions.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/maruel/serve-dir/loghttp"

	"thermrec-go/internal/metrics"
	"thermrec-go/internal/pipeline"
	"thermrec-go/internal/roi"
	"thermrec-go/internal/types"
)

//go:embed web/*
var webFS embed.FS

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	defaultQueue = 16
	sessionLimit = 100
)

// Hooks are the read-only views the server needs from the rest of the
// program. Any of them may be nil.
type Hooks struct {
	Status   func() map[string]any
	Config   func() map[string]any
	Snapshot func() any
	Sessions func(limit int) (any, error)
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex

	events   chan<- roi.Event
	commands chan<- pipeline.Command
	metrics  *metrics.Metrics
	hooks    Hooks
	messages chan []byte
	enc      cbor.EncMode
}

var _ pipeline.Publisher = (*Server)(nil)

// New creates a server that forwards polygon edits to events and other UI
// requests to commands. Neither send ever blocks the websocket reader.
func New(events chan<- roi.Event, commands chan<- pipeline.Command, m *metrics.Metrics, hooks Hooks) *Server {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		events:   events,
		commands: commands,
		metrics:  m,
		hooks:    hooks,
		messages: make(chan []byte, defaultQueue),
		enc:      enc,
	}
}

// Broadcast encodes msg and queues it for every client. When the queue is
// full the message is dropped; the next frame supersedes it anyway.
func (s *Server) Broadcast(msg any) {
	payload, err := s.enc.Marshal(msg)
	if err != nil {
		log.Printf("server: encode %T: %v", msg, err)
		return
	}
	select {
	case s.messages <- payload:
	default:
	}
}

// Handler returns the full route table, wrapped with request logging and
// metrics.
func (s *Server) Handler() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(sub)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sessions", s.handleSessions)
	var h http.Handler = mux
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
		h = s.metrics.Middleware(h)
	}
	return &loghttp.Handler{Handler: h}, nil
}

// Run serves on port until ctx is done.
func (s *Server) Run(ctx context.Context, port int) error {
	h, err := s.Handler()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.broadcast(ctx)

	log.Printf("server: listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// request is any JSON message a client may send.
type request struct {
	Type  string       `json:"type"`
	Point *types.Point `json:"point,omitempty"`
	Mode  string       `json:"mode,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.clients[conn] = writeMu
	s.mu.Unlock()

	_ = s.writeJSON(conn, writeMu, s.configPayload())

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var req request
			if err := json.Unmarshal(payload, &req); err != nil {
				continue
			}
			s.dispatch(conn, writeMu, req)
		}
	}()
}

func (s *Server) dispatch(conn *websocket.Conn, writeMu *sync.Mutex, req request) {
	switch kind := roi.EventKind(req.Type); kind {
	case roi.EventAdd, roi.EventRemove, roi.EventHover:
		if req.Point == nil {
			return
		}
		s.sendEvent(roi.Event{Kind: kind, Point: *req.Point})
		return
	case roi.EventUndo, roi.EventClear:
		s.sendEvent(roi.Event{Kind: kind})
		return
	}
	switch req.Type {
	case "record":
		select {
		case s.commands <- pipeline.Command{Kind: pipeline.CommandRecord, Mode: req.Mode}:
		default:
			log.Printf("server: command queue full, dropping %q", req.Type)
		}
	case "snapshot_request":
		if s.hooks.Snapshot == nil {
			return
		}
		snapshot := s.hooks.Snapshot()
		if snapshot == nil {
			return
		}
		payload, err := s.enc.Marshal(snapshot)
		if err != nil {
			return
		}
		_ = s.writeMessage(conn, writeMu, websocket.BinaryMessage, payload)
	}
}

// sendEvent never blocks; a full queue drops the edit.
func (s *Server) sendEvent(ev roi.Event) {
	dropped := false
	select {
	case s.events <- ev:
	default:
		dropped = true
	}
	if s.metrics != nil {
		s.metrics.UIEvent(dropped)
	}
}

func (s *Server) configPayload() map[string]any {
	payload := map[string]any{
		"type":        "config",
		"min_points":  roi.MinPoints,
		"max_points":  roi.MaxPoints,
		"pick_radius": roi.PickRadius,
	}
	if s.hooks.Config != nil {
		for k, v := range s.hooks.Config() {
			payload[k] = v
		}
	}
	return payload
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.configPayload())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{}
	if s.hooks.Status != nil {
		payload = s.hooks.Status()
	}
	if s.metrics != nil {
		payload["metrics"] = s.metrics.Snapshot()
	}
	payload["ws_clients"] = s.clientCount()
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.hooks.Sessions == nil {
		http.Error(w, "no session catalog", http.StatusNotFound)
		return
	}
	limit := sessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	sessions, err := s.hooks.Sessions(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessions)
}

func (s *Server) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-s.messages:
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := s.writeMessage(conn, writeMu, websocket.BinaryMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
