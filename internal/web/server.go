// Package web serves the ground-station dashboard: a live annotated video
// stream, the current telemetry snapshot and endpoints for enabling the
// landing sequence and adjusting tuning in flight.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/precland/precland/internal/config"
	"github.com/precland/precland/internal/dispatcher"
	"github.com/precland/precland/internal/telemetry"
	"github.com/precland/precland/internal/vision"
)

// wsPushInterval is how often the websocket feed pushes a snapshot.
const wsPushInterval = 200 * time.Millisecond

// Server is the dashboard HTTP server.
type Server struct {
	cfg        config.WebConfig
	store      *telemetry.Store
	detector   *vision.Detector
	dispatcher *dispatcher.Dispatcher
	log        *slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	requests metric.Int64Counter
}

// New creates the dashboard server. Commands from the dashboard go through
// the dispatcher; the server itself never touches the control loop.
func New(cfg config.WebConfig, store *telemetry.Store, detector *vision.Detector,
	disp *dispatcher.Dispatcher, log *slog.Logger) *Server {

	if cfg.StreamFPS <= 0 {
		cfg.StreamFPS = 20
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 50
	}

	s := &Server{
		cfg:        cfg,
		store:      store,
		detector:   detector,
		dispatcher: disp,
		log:        log,
		upgrader: websocket.Upgrader{
			// The dashboard is served on a trusted field network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	m := meter()
	s.requests, _ = m.Int64Counter("web.requests",
		metric.WithDescription("Dashboard HTTP requests served"))

	return s
}

// Routes builds the request mux. Exposed for tests.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/video", s.handleVideo)
	mux.HandleFunc("/enable", s.handleEnable)
	mux.HandleFunc("/param", s.handleParam)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Routes(),
	}

	go func() {
		s.log.Info("Dashboard listening", "port", s.cfg.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Dashboard server failed", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.count(r)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.count(r)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.store.Get()); err != nil {
		s.log.Error("Failed to encode status", "error", err)
	}
}

// handleVideo streams annotated frames as multipart MJPEG.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	s.count(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.StreamFPS))
	defer ticker.Stop()

	var buf bytes.Buffer
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame := s.detector.ProcessedFrame()
			if frame == nil {
				continue
			}

			buf.Reset()
			if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
				s.log.Error("Failed to encode frame", "error", err)
				continue
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", buf.Len()); err != nil {
				return
			}
			if _, err := w.Write(buf.Bytes()); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// enableRequest is the body of POST /enable.
type enableRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.count(r)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %s", err))
		return
	}

	command := dispatcher.CmdDisable
	if req.Enabled {
		command = dispatcher.CmdEnable
	}

	if _, err := s.dispatcher.Dispatch(dispatcher.Event{
		Command:   command,
		Timestamp: time.Now(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]any{"ok": true, "enabled": req.Enabled})
}

func (s *Server) handleParam(w http.ResponseWriter, r *http.Request) {
	s.count(r)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var update dispatcher.TuningUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid parameter: %s", err))
		return
	}
	if update.Empty() {
		writeError(w, http.StatusBadRequest, "no parameters given")
		return
	}

	if _, err := s.dispatcher.Dispatch(dispatcher.Event{
		Command:   dispatcher.CmdSetTuning,
		Tuning:    &update,
		Timestamp: time.Now(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]any{"ok": true})
}

// handleWS upgrades to a websocket and pushes snapshots until the client
// disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.count(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.store.Get()); err != nil {
				return
			}
		}
	}
}

func (s *Server) count(r *http.Request) {
	s.requests.Add(r.Context(), 1)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
