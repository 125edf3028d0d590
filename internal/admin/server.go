package admin

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"image/png"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dronetrack-rl/internal/env"
	"dronetrack-rl/internal/telemetry"
)

// Status is the controller state shown on the index page.
type Status struct {
	Connected bool             `json:"connected"`
	Flying    bool             `json:"flying"`
	Overlay   env.OverlayStats `json:"overlay"`
}

// Snapshot is served on /episode.
type Snapshot struct {
	Status   Status                `json:"status"`
	Step     *telemetry.StepRow    `json:"step,omitempty"`
	Episode  *telemetry.EpisodeRow `json:"episode,omitempty"`
	Episodes int                   `json:"episodes"`
}

// Server shows overlay frames and episode progress over HTTP. It is an
// env.Display and a step/episode writer.
type Server struct {
	tpl      *template.Template
	upgrader websocket.Upgrader
	status   func() Status

	mu       sync.RWMutex
	frame    []byte
	step     *telemetry.StepRow
	episode  *telemetry.EpisodeRow
	episodes int
	subs     map[chan []byte]struct{}
}

//go:embed templates/index.html
var content embed.FS

func NewServer() *Server {
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	return &Server{
		tpl: tpl,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[chan []byte]struct{}),
	}
}

// SetStatus registers the controller state provider.
func (s *Server) SetStatus(fn func() Status) {
	s.mu.Lock()
	s.status = fn
	s.mu.Unlock()
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/episode", s.handleEpisode)
	mux.HandleFunc("/frame.png", s.handleFrame)
	mux.HandleFunc("/stream", s.handleStream)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("display server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Show encodes f as PNG, keeps it as the latest frame and pushes it to
// stream subscribers. Slow subscribers miss frames.
func (s *Server) Show(f env.Frame) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image()); err != nil {
		return err
	}
	b := buf.Bytes()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = b
	for ch := range s.subs {
		select {
		case ch <- b:
		default:
		}
	}
	return nil
}

// WriteStep keeps the latest step for /episode.
func (s *Server) WriteStep(row telemetry.StepRow) error {
	s.mu.Lock()
	s.step = &row
	s.mu.Unlock()
	return nil
}

// WriteEpisode keeps the latest finished episode for /episode.
func (s *Server) WriteEpisode(row telemetry.EpisodeRow) error {
	s.mu.Lock()
	s.episode = &row
	s.episodes++
	s.mu.Unlock()
	return nil
}

func (s *Server) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Step: s.step, Episode: s.episode, Episodes: s.episodes}
	if s.status != nil {
		snap.Status = s.status()
	}
	return snap
}

func (s *Server) subscribe() chan []byte {
	ch := make(chan []byte, 1)
	s.mu.Lock()
	if s.frame != nil {
		ch <- s.frame
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if err := s.tpl.Execute(w, s.snapshot()); err != nil {
		slog.Error("render index", "error", err)
	}
}

func (s *Server) handleEpisode(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	frame := s.frame
	s.mu.RUnlock()
	if frame == nil {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer c.Close()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	// Reading is required to notice the client closing the socket.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case frame := <-ch:
			c.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}
