package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetwatch/internal/agents"
	"fleetwatch/internal/inference"
	"fleetwatch/internal/logging"
	"fleetwatch/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the HTTP surface: websocket stream, read-only REST views over
// the store, the approval endpoints and health/metrics.
type Server struct {
	store       store.Store
	inference   inference.Service
	coordinator *agents.Coordinator
	hub         *Hub
	registry    *prometheus.Registry
	addr        string
	logger      *slog.Logger
}

// New assembles the server. registry may be nil to disable /metrics.
func New(addr string, st store.Store, svc inference.Service, co *agents.Coordinator, hub *Hub, registry *prometheus.Registry) *Server {
	return &Server{
		store:       st,
		inference:   svc,
		coordinator: co,
		hub:         hub,
		registry:    registry,
		addr:        addr,
		logger:      logging.New("server"),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/vehicles", s.handleVehicles).Methods(http.MethodGet)
	api.HandleFunc("/centers", s.handleCenters).Methods(http.MethodGet)
	api.HandleFunc("/cases", s.handleCases).Methods(http.MethodGet)
	api.HandleFunc("/cases/{id}", s.handleCase).Methods(http.MethodGet)
	api.HandleFunc("/cases/{id}/confirm", s.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/cases/{id}/reject", s.handleReject).Methods(http.MethodPost)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	client := newClient(s.hub, conn)
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready only when the inference service is reachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.inference.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.controls.Snapshot())
}

func (s *Server) handleVehicles(w http.ResponseWriter, _ *http.Request) {
	vehicles, err := s.store.ListVehicles()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

func (s *Server) handleCenters(w http.ResponseWriter, r *http.Request) {
	centers, err := s.store.ListActiveCenters(queryLimit(r, 100))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, centers)
}

func (s *Server) handleCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.store.ListCases(queryLimit(r, 100))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

func (s *Server) handleCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCase(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type confirmRequest struct {
	CenterID string `json:"centerId"`
	Date     string `json:"date"`
	Band     string `json:"band"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if req.CenterID == "" || req.Date == "" || req.Band == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "centerId, date and band are required"})
		return
	}
	caseID := mux.Vars(r)["id"]
	err := s.coordinator.ConfirmAppointment(caseID, req.CenterID, req.Date, req.Band)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
	case errors.Is(err, agents.ErrSlotUnavailable):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "slot no longer available"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
	case errors.Is(err, store.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.fail(w, err)
	}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	// An empty body means "reject with no reason".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	caseID := mux.Vars(r)["id"]
	err := s.coordinator.RejectRecommendation(caseID, req.Reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
	case errors.Is(err, store.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.fail(w, err)
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
