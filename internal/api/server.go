package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"

	"pillars-watch/internal/database"
	"pillars-watch/internal/logger"
	"pillars-watch/internal/services"
)

// Scanner - триггеры сканирования
type Scanner interface {
	ScanAll(ctx context.Context) (services.Summary, error)
	ScanUser(ctx context.Context, userID int64) (services.UserResult, error)
}

// Findings - найденные паттерны и отправленные интервенции
type Findings interface {
	ListPatterns(ctx context.Context, userID int64, status database.PatternStatus) ([]database.Pattern, error)
	ListInterventions(ctx context.Context, userID int64, limit int) ([]database.Intervention, error)
}

type Server struct {
	router   chi.Router
	scanner  Scanner
	findings Findings
	log      *logger.Logger
}

func NewServer(scanner Scanner, findings Findings, log *logger.Logger) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		scanner:  scanner,
		findings: findings,
		log:      log,
	}
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/scan", s.handleScanAll)
		r.Route("/users/{id}", func(r chi.Router) {
			r.Post("/scan", s.handleScanUser)
			r.Get("/patterns", s.handlePatterns)
			r.Get("/interventions", s.handleInterventions)
		})
	})
}

func (s *Server) handleScanAll(w http.ResponseWriter, r *http.Request) {
	// Скан доводится до конца, даже если клиент отключился
	summary, err := s.scanner.ScanAll(context.WithoutCancel(r.Context()))
	if errors.Is(err, services.ErrScanInProgress) {
		writeError(w, s.log, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleScanUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	res, err := s.scanner.ScanUser(context.WithoutCancel(r.Context()), userID)
	if errors.Is(err, database.ErrUserNotFound) {
		writeError(w, s.log, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	status := database.PatternStatus(r.URL.Query().Get("status"))
	switch status {
	case "", database.StatusOpen, database.StatusResolved:
	default:
		writeError(w, s.log, http.StatusBadRequest, fmt.Errorf("unknown status %q", status))
		return
	}

	patterns, err := s.findings.ListPatterns(r.Context(), userID, status)
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, err)
		return
	}
	if patterns == nil {
		patterns = []database.Pattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (s *Server) handleInterventions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, s.log, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	interventions, err := s.findings.ListInterventions(r.Context(), userID, limit)
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, err)
		return
	}
	if interventions == nil {
		interventions = []database.Intervention{}
	}
	writeJSON(w, http.StatusOK, interventions)
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, s.log, http.StatusBadRequest, fmt.Errorf("invalid user id %q", raw))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, log *logger.Logger, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Warn("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
