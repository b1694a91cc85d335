package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/metrics"
	"github.com/Shimmur/streamgen/seeding"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusReport is the body of the /state endpoint
type StatusReport struct {
	Config      *config.Snapshot `json:"config"`
	ProcessSeed uint64           `json:"process_seed"`
	Substreams  uint64           `json:"substreams_issued"`
	Sessions    []*Session       `json:"sessions"`
}

// A StatusServer serves state, metrics and the websocket transport
type StatusServer struct {
	server  *Server
	tracker *SessionTracker
	metrics *metrics.Metrics
	deriver *seeding.Deriver

	ctx context.Context
}

func NewStatusServer(ctx context.Context, server *Server, tracker *SessionTracker,
	m *metrics.Metrics, deriver *seeding.Deriver) *StatusServer {

	return &StatusServer{
		server:  server,
		tracker: tracker,
		metrics: m,
		deriver: deriver,
		ctx:     ctx,
	}
}

// Router wires up the handlers
func (s *StatusServer) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/state", s.handleState).Methods("GET")
	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	router.HandleFunc("/stream/ws", s.handleWebSocket).Methods("GET")
	return router
}

// ListenAndServe runs the HTTP server until ctx is cancelled
func (s *StatusServer) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-s.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("State server starting on %s...", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *StatusServer) handleState(w http.ResponseWriter, r *http.Request) {
	checkpoint := s.deriver.Checkpoint()

	report := StatusReport{
		Config:      s.server.store.Current(),
		ProcessSeed: s.deriver.ProcessSeed(),
		Substreams:  checkpoint.Substreams,
		Sessions:    s.tracker.Active(),
	}

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleWebSocket runs the same pipeline as a TCP connection. The seed query
// parameter stands in for the seed line; each value is one text frame.
func (s *StatusServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.server.begin() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.server.done()

	if !s.server.admission.Allow(r.Context(), r.RemoteAddr) {
		s.tracker.Rejected()
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	snap := s.server.store.Current()
	profile, err := s.server.builder.Build(snap, r.RemoteAddr, seeding.StaticSeed(r.URL.Query().Get("seed")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed for %s: %s", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.UnderlyingConn().SetDeadline(time.Now())
	})
	defer stop()

	// Clients only read. Reading here is how a close is noticed, and it
	// keeps control frames flowing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	_ = s.server.RunSession(ctx, profile, TransportWebSocket, &wsWriter{conn: conn})
}

// wsWriter sends each Write as one text frame
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
