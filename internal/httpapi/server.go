// Package httpapi is the external HTTP surface. Responses use a
// {status, message, ...} JSON envelope; failures carry the engine
// error's message with a status code derived from its class.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/goldieapp/speechbridge/internal/config"
	"github.com/goldieapp/speechbridge/internal/speech"
)

// Server serves the speech API.
type Server struct {
	cfg         config.HTTPConfig
	logger      *slog.Logger
	recognizer  *speech.Recognizer
	synthesizer *speech.Synthesizer
	components  func() map[string]bool
	httpServer  *http.Server
	wg          sync.WaitGroup
}

// NewServer wires the engines behind the router. components reports
// per-subsystem health for the status endpoints.
func NewServer(cfg config.HTTPConfig, recognizer *speech.Recognizer, synthesizer *speech.Synthesizer, components func() map[string]bool, logger *slog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "httpapi")),
		recognizer:  recognizer,
		synthesizer: synthesizer,
		components:  components,
	}
}

// Router builds the route tree. Exposed separately so tests can drive
// handlers without binding a socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/", s.handleHealth)
	r.Route("/api/speech", func(r chi.Router) {
		r.Get("/test", s.handleHealth)
		r.Get("/voices", s.handleVoices)
		r.Route("/recognition", func(r chi.Router) {
			r.Post("/start", s.handleRecognitionStart)
			r.Post("/stop", s.handleRecognitionStop)
			r.Get("/results", s.handleRecognitionResults)
		})
		r.Route("/synthesis", func(r chi.Router) {
			r.Post("/start", s.handleSynthesisStart)
			r.Post("/synthesize", s.handleSynthesize)
			r.Get("/status", s.handleSynthesisStatus)
			r.Post("/stop", s.handleSynthesisStop)
			r.Post("/export", s.handleSynthesisExport)
		})
	})
	return r
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("http server started", slog.String("addr", addr))
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":  "success",
		"message": "speech service is running",
		"service": "speechbridge",
	}
	if s.components != nil {
		payload["components"] = s.components()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"voices": speech.Voices(),
	})
}

func (s *Server) handleRecognitionStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	sessionID, err := s.recognizer.Start(req.SessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"message":    "recognition started",
		"session_id": sessionID,
	})
}

func (s *Server) handleRecognitionStop(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.recognizer.Stop()
	if err != nil {
		// Stopping while idle is a caller mistake at this route, not a
		// missing resource.
		if speech.KindOf(err) == speech.KindNotFound {
			s.failWithStatus(w, http.StatusBadRequest, err)
			return
		}
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"message":    "recognition stopped",
		"session_id": sessionID,
	})
}

func (s *Server) handleRecognitionResults(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	results := s.recognizer.Poll(sessionID)
	if results == nil {
		results = []speech.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": results,
	})
}

func (s *Server) handleSynthesisStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Voice string `json:"voice"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.Voice == "" {
		s.fail(w, speech.Validationf("voice is required"))
		return
	}
	sessionID, err := s.synthesizer.Start(req.Voice)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"message":    "synthesis session started",
		"session_id": sessionID,
	})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string `json:"session_id"`
		Text       string `json:"text"`
		IsComplete bool   `json:"is_complete"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.SessionID == "" {
		s.fail(w, speech.Validationf("session_id is required"))
		return
	}
	if err := s.synthesizer.Synthesize(req.SessionID, req.Text, req.IsComplete); err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "synthesis request accepted",
	})
}

func (s *Server) handleSynthesisStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.fail(w, speech.Validationf("session_id is required"))
		return
	}
	status, err := s.synthesizer.Status(sessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"registered":  status.Registered,
		"initialized": status.Initialized,
		"ready":       status.Ready,
	})
}

func (s *Server) handleSynthesisStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	s.synthesizer.Stop(req.SessionID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "synthesis session stopped",
	})
}

func (s *Server) handleSynthesisExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.SessionID == "" {
		s.fail(w, speech.Validationf("session_id is required"))
		return
	}
	path, err := s.synthesizer.Export(req.SessionID)
	if err != nil {
		if errors.Is(err, speech.ErrNoNewData) {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"status":  "success",
				"message": "no new audio data",
			})
			return
		}
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "audio exported",
		"file":    path,
	})
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return speech.Validationf("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.failWithStatus(w, speech.HTTPStatus(err), err)
}

func (s *Server) failWithStatus(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]any{
		"status":  "error",
		"message": err.Error(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
