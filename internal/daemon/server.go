// Package daemon implements the long-lived connprune service: the HTTP command
// surface, the progress stream and periodic housekeeping.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/transport"
)

// RemovalController is the part of usecase.Controller the server drives.
type RemovalController interface {
	Start(ctx context.Context, kind domain.ActionKind, settings domain.Settings) (domain.StartAck, error)
	Stop() domain.StopResult
	Status() domain.Status
}

// ContactLoader is the part of usecase.BulkLoader the server drives.
type ContactLoader interface {
	LoadAll(ctx context.Context) ([]domain.Contact, error)
	Abort() domain.AbortAck
	Loading() bool
	LastProgress() (domain.Progress, bool)
}

// SettingsStore is the part of usecase.Preferences the server reads and writes.
type SettingsStore interface {
	Settings(ctx context.Context) domain.Settings
	SaveSettings(ctx context.Context, s domain.Settings) error
	LastLoaded(ctx context.Context) ([]domain.Contact, error)
}

// Server exposes the command surface over HTTP.
type Server struct {
	controller RemovalController
	loader     ContactLoader
	prefs      SettingsStore
	hub        *ProgressHub
	pageSize   int
	logger     *zap.Logger

	// Lifetime of background loads started over HTTP.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the command surface. pageSize bounds GET /contacts pages.
func NewServer(controller RemovalController, loader ContactLoader, prefs SettingsStore, hub *ProgressHub, pageSize int, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		controller: controller,
		loader:     loader,
		prefs:      prefs,
		hub:        hub,
		pageSize:   pageSize,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Post("/removal/start", s.handleStart(domain.ActionRemoveConnection))
	r.Post("/unfollow/start", s.handleStart(domain.ActionUnfollow))
	r.Post("/stop", s.handleStop)

	r.Post("/load", s.handleLoad)
	r.Post("/load/abort", s.handleAbort)
	r.Get("/load/status", s.handleLoadStatus)
	r.Get("/contacts", s.handleContacts)

	r.Get("/events", s.hub.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Shutdown cancels background loads.
func (s *Server) Shutdown() {
	s.cancel()
}

// StartRequest is the body of the start commands. Absent fields fall back to
// the stored settings; exclusions are merged with the stored ones.
type StartRequest struct {
	DelayMillis *int     `json:"delayMillis,omitempty"`
	DailyLimit  *int     `json:"dailyLimit,omitempty"`
	Exclusions  []string `json:"exclusions,omitempty"`
}

// StartResponse is the success shape of the start commands.
type StartResponse struct {
	Started bool `json:"started"`
	domain.StartAck
}

// StopResponse is the shape of the stop command.
type StopResponse struct {
	Stopped bool `json:"stopped"`
	domain.StopResult
}

// LoadStatus is the shape of GET /load/status.
type LoadStatus struct {
	Loading      bool             `json:"loading"`
	LastProgress *transport.Event `json:"lastProgress,omitempty"`
}

// ErrorResponse is the failure shape of every command.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleStart(kind domain.ActionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
				return
			}
		}

		settings := s.settingsFor(r.Context(), req)
		ack, err := s.controller.Start(r.Context(), kind, settings)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyRunning) {
				respondJSON(w, http.StatusConflict, map[string]bool{"already_running": true})
				return
			}
			status, code := classify(err)
			s.logger.Warn("start rejected", zap.String("action", string(kind)), zap.Error(err))
			respondError(w, status, code, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, StartResponse{Started: true, StartAck: ack})
	}
}

// settingsFor overlays req on the stored settings and persists the overrides.
func (s *Server) settingsFor(ctx context.Context, req StartRequest) domain.Settings {
	settings := s.prefs.Settings(ctx)
	changed := false
	if req.DelayMillis != nil {
		settings.Delay = time.Duration(*req.DelayMillis) * time.Millisecond
		changed = true
	}
	if req.DailyLimit != nil {
		settings.DailyLimit = *req.DailyLimit
		changed = true
	}
	settings.Exclusions = settings.Exclusions.Merge(domain.NewExclusionSet(req.Exclusions...))
	settings = settings.Normalize()

	if changed {
		if err := s.prefs.SaveSettings(ctx, settings); err != nil {
			s.logger.Warn("failed to persist settings", zap.Error(err))
		}
	}
	return settings
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	result := s.controller.Stop()
	respondJSON(w, http.StatusOK, StopResponse{Stopped: true, StopResult: result})
}

func (s *Server) handleLoad(w http.ResponseWriter, _ *http.Request) {
	if s.loader.Loading() {
		respondError(w, http.StatusConflict, "load_in_progress", domain.ErrLoadInProgress.Error())
		return
	}

	go func() {
		if _, err := s.loader.LoadAll(s.ctx); err != nil && !errors.Is(err, domain.ErrLoadInProgress) {
			s.logger.Warn("bulk load ended with error", zap.Error(err))
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]bool{"loading": true})
}

func (s *Server) handleAbort(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.loader.Abort())
}

func (s *Server) handleLoadStatus(w http.ResponseWriter, _ *http.Request) {
	status := LoadStatus{Loading: s.loader.Loading()}
	if p, ok := s.loader.LastProgress(); ok {
		e := transport.Event{
			Progress:      p.Percent,
			Message:       p.Message,
			ContactsSoFar: p.Count,
			Done:          p.Done,
		}
		status.LastProgress = &e
	}
	respondJSON(w, http.StatusOK, status)
}

// handleContacts serves the last loaded contacts one page at a time.
func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	index := 0
	if raw := r.URL.Query().Get("chunk"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "chunk must be a non-negative integer")
			return
		}
		index = n
	}

	contacts, err := s.prefs.LastLoaded(r.Context())
	if err != nil {
		s.logger.Warn("failed to read last loaded contacts", zap.Error(err))
	}
	if contacts == nil {
		contacts = []domain.Contact{}
	}

	pages := transport.Paginate(contacts, s.pageSize)
	if index >= len(pages) {
		respondError(w, http.StatusNotFound, "not_found", "chunk out of range")
		return
	}
	respondJSON(w, http.StatusOK, pages[index])
}

// classify maps a start error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrWrongContext):
		return http.StatusConflict, "wrong_context"
	case errors.Is(err, domain.ErrNoContacts):
		return http.StatusUnprocessableEntity, "no_contacts"
	case errors.Is(err, domain.ErrScanFailed):
		return http.StatusBadGateway, "scan_failed"
	case errors.Is(err, domain.ErrInvalidSettings):
		return http.StatusBadRequest, "invalid_settings"
	case errors.Is(err, domain.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}
