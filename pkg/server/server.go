// Package server exposes the engine over HTTP: an SSE turn endpoint, a
// cooperative cancel endpoint, session listing, health, and metrics. It is
// a thin collaborator; all semantics live in pkg/executor.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/executor"
	"github.com/praxislabs/praxis/pkg/observability"
	"github.com/praxislabs/praxis/pkg/session"
)

// Server wires the HTTP surface around the executor.
type Server struct {
	exec     *executor.PlanExecutor
	sessions session.Store
	queue    *turnQueue
	logger   *slog.Logger

	metricsEnabled bool
	metricsPath    string
}

// Options configure the optional surfaces.
type Options struct {
	MetricsEnabled bool
	MetricsPath    string
	Logger         *slog.Logger
}

// New builds the server.
func New(exec *executor.PlanExecutor, sessions session.Store, opts Options) (*Server, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Server{
		exec:           exec,
		sessions:       sessions,
		queue:          newTurnQueue(),
		logger:         opts.Logger,
		metricsEnabled: opts.MetricsEnabled,
		metricsPath:    opts.MetricsPath,
	}, nil
}

// Router assembles the chi mux.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	if s.metricsEnabled {
		r.Handle(s.metricsPath, observability.Handler())
	}

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/turns", s.handleTurn)
			r.Post("/cancel", s.handleCancel)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then drains with a shutdown grace
// period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// turnRequestBody is the JSON accepted by the turn endpoint.
type turnRequestBody struct {
	Query           string         `json:"query"`
	ProfileTag      string         `json:"profile_tag,omitempty"`
	PromptName      string         `json:"prompt_name,omitempty"`
	PromptParams    map[string]any `json:"prompt_params,omitempty"`
	CaseID          string         `json:"case_id,omitempty"`
	IsSessionPrimer bool           `json:"is_session_primer,omitempty"`
	Attachments     []struct {
		Name      string `json:"name"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"` // base64
	} `json:"attachments,omitempty"`
}

// handleTurn runs one turn, streaming its events as SSE frames. Turns on
// the same session queue behind each other; turn N+1 starts only after N
// reaches a terminal state.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	var body turnRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	req := executor.TurnRequest{
		UserID:          userID,
		SessionID:       sessionID,
		Query:           body.Query,
		ProfileTag:      body.ProfileTag,
		PromptName:      body.PromptName,
		PromptParams:    body.PromptParams,
		CaseID:          body.CaseID,
		IsSessionPrimer: body.IsSessionPrimer,
	}
	for _, att := range body.Attachments {
		data, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("attachment %q is not valid base64", att.Name))
			return
		}
		req.Attachments = append(req.Attachments, executor.Attachment{
			Name:      att.Name,
			MediaType: att.MediaType,
			Data:      data,
		})
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Serialize turns per (user, session) before any work happens.
	release := s.queue.acquire(userID, sessionID)
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan events.Event)
	req.Sink = events.NewChanSink(ch)

	ctx := r.Context()
	done := make(chan error, 1)
	go func() {
		defer close(ch)
		_, err := s.exec.ExecuteTurn(ctx, req)
		done <- err
	}()

	sse := &sseWriter{w: w, flusher: flusher}
	for ev := range ch {
		if err := sse.write(ev); err != nil {
			// Client is gone. The executor observes ctx and winds down on
			// its own; drain so it never blocks on the sink.
			for range ch {
			}
			break
		}
	}

	if err := <-done; err != nil && !executor.IsCancellation(err) {
		s.logger.Warn("turn failed", "user", userID, "session", sessionID, "error", err)
		// Terminal error events were already streamed; nothing to add here.
	}
}

// handleCancel flags the running turn for cooperative cancellation.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	s.exec.Cancel(userID, sessionID)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "cancelling", "session_id": sessionID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	sessions, err := s.sessions.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summaries := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, map[string]any{
			"session_id": sess.ID,
			"name":       sess.Name,
			"turns":      len(sess.History),
			"cost_usd":   sess.CostUSD,
			"updated_at": sess.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(r.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
