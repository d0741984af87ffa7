// Package api exposes the connection manager over a local HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/yllada/vpn-pool/common"
	"github.com/yllada/vpn-pool/history"
	"github.com/yllada/vpn-pool/vpn"
)

// Controller is the subset of *vpn.Manager the API drives.
type Controller interface {
	Connect(ctx context.Context, profileID string) error
	ConnectRandom(ctx context.Context) (string, error)
	Disconnect() error
	GetConfig() []vpn.Profile
	Status() vpn.Status
}

// HistoryReader lists recorded events.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Server holds the API's dependencies. History, Metrics and Logger are optional.
type Server struct {
	Manager Controller
	History HistoryReader
	Metrics http.Handler
	Logger  common.Logger
}

// StatusResponse is the body of GET /status and of successful connects.
type StatusResponse struct {
	State       string     `json:"state"`
	ProfileID   string     `json:"profile_id,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	PID         int        `json:"pid,omitempty"`
	Since       time.Time  `json:"since"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

func newStatusResponse(st vpn.Status) StatusResponse {
	resp := StatusResponse{
		State:     st.State.Key(),
		ProfileID: st.ProfileID,
		SessionID: st.SessionID,
		PID:       st.PID,
		Since:     st.Since,
	}
	if !st.ConnectedAt.IsZero() {
		at := st.ConnectedAt
		resp.ConnectedAt = &at
	}
	return resp
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	logger := s.Logger
	if logger == nil {
		logger = common.GetLogger()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/health", s.health)
	r.Get("/profiles", s.listProfiles)
	r.Get("/status", s.status)
	r.Get("/history", s.listHistory)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Post("/connect", s.connectRandom)
	r.Post("/connect/{profile}", s.connect)
	r.Post("/disconnect", s.disconnect)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusCode maps manager errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, vpn.ErrUnknownProfile):
		return http.StatusNotFound
	case errors.Is(err, vpn.ErrNoAvailableProfile), errors.Is(err, vpn.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, vpn.ErrConnectionFailed), errors.Is(err, vpn.ErrSpawn):
		return http.StatusBadGateway
	case errors.Is(err, vpn.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, vpn.ErrCancelled):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrCredentialsNotFound):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Manager.GetConfig())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusResponse(s.Manager.Status()))
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	profile := chi.URLParam(r, "profile")
	if err := s.Manager.Connect(r.Context(), profile); err != nil {
		writeError(w, statusCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(s.Manager.Status()))
}

func (s *Server) connectRandom(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Manager.ConnectRandom(r.Context()); err != nil {
		writeError(w, statusCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(s.Manager.Status()))
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.Manager.Disconnect(); err != nil {
		writeError(w, statusCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(s.Manager.Status()))
}

// requestLogger logs each request at debug level.
func requestLogger(logger common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("%s %s -> %d (%v) [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start),
				chimw.GetReqID(r.Context()))
		})
	}
}
