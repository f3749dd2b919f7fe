// Package server is the thin HTTP transport over the conversation
// core: it marshals requests in, calls the collaborators and the
// router, and marshals results out. Statistics leave the process only
// through the privacy engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"EmpathyChat/internal/classifier"
	"EmpathyChat/internal/persona"
	"EmpathyChat/internal/privacy"
	"EmpathyChat/internal/router"
	"EmpathyChat/internal/session"
)

// statistic declares one named, privacy-protected statistic: how to
// compute the exact value and the sensitivity the query is accounted
// under. Sensitivity is declared here, by the caller of the privacy
// engine, never inferred.
type statistic struct {
	sensitivity float64
	mechanism   privacy.Mechanism
	compute     func(session.Aggregate) float64
}

// Server holds the wired components behind the HTTP handlers.
type Server struct {
	store      *session.Store
	router     *router.Router
	classifier classifier.Classifier
	engine     *privacy.Engine
	logger     *slog.Logger

	classifierTimeout time.Duration
	delta             float64
	statistics        map[string]statistic
}

// New creates the transport handler.
func New(
	store *session.Store,
	rt *router.Router,
	cls classifier.Classifier,
	engine *privacy.Engine,
	logger *slog.Logger,
	classifierTimeout time.Duration,
	delta float64,
) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:             store,
		router:            rt,
		classifier:        cls,
		engine:            engine,
		logger:            logger,
		classifierTimeout: classifierTimeout,
		delta:             delta,
		statistics: map[string]statistic{
			"total_sessions": {
				sensitivity: 1,
				mechanism:   privacy.Laplace,
				compute:     func(a session.Aggregate) float64 { return float64(a.Sessions) },
			},
			"total_turns": {
				// Per-session contribution is clamped in the
				// aggregate, so one session moves this by at most the
				// cap.
				sensitivity: 20,
				mechanism:   privacy.Laplace,
				compute:     func(a session.Aggregate) float64 { return float64(a.ClampedTurns) },
			},
			"avg_turns_per_session": {
				sensitivity: 1,
				mechanism:   privacy.Laplace,
				compute:     session.Aggregate.AvgTurnsPerSession,
			},
			"crisis_rate": {
				sensitivity: 1,
				mechanism:   privacy.Gaussian,
				compute:     session.Aggregate.CrisisRate,
			},
			"mean_confidence": {
				sensitivity: 1,
				mechanism:   privacy.Gaussian,
				compute:     session.Aggregate.MeanConfidence,
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/create", s.handleCreateSession)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /session/{id}", s.handleGetSession)
	mux.HandleFunc("GET /session/{id}/export", s.handleExportSession)
	mux.HandleFunc("DELETE /session/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /personas", s.handlePersonas)
	mux.HandleFunc("GET /statistics", s.handleStatistics)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

type createSessionRequest struct {
	Persona string `json:"persona,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Persona   string `json:"persona"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
	}

	p := session.PersonaFriend
	if req.Persona != "" {
		parsed, ok := session.ParsePersona(req.Persona)
		if !ok {
			badRequest(w, "unknown persona")
			return
		}
		p = parsed
	}

	sess := s.store.Create(p)
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Persona:   string(sess.Persona),
	})
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Persona   string `json:"persona,omitempty"`
}

type chatResponse struct {
	SessionID    string  `json:"session_id"`
	ResponseText string  `json:"response_text"`
	PersonaUsed  string  `json:"persona_used"`
	Intent       string  `json:"intent,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	Crisis       bool    `json:"crisis"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Message == "" {
		badRequest(w, "message is required")
		return
	}

	var personaSel session.Persona
	if req.Persona != "" {
		p, ok := session.ParsePersona(req.Persona)
		if !ok {
			badRequest(w, "unknown persona")
			return
		}
		personaSel = p
	}

	sessionID := req.SessionID
	if sessionID == "" {
		p := personaSel
		if p == "" {
			p = session.PersonaFriend
		}
		sessionID = s.store.Create(p).ID
	}

	// The classifier is a slow out-of-process call; its failure is
	// recovered locally by forcing the low-confidence fallback path.
	clsCtx, cancel := context.WithTimeout(r.Context(), s.classifierTimeout)
	res, err := s.classifier.Classify(clsCtx, req.Message)
	cancel()
	if err != nil {
		s.logger.Warn("classifier unavailable, routing without intent", "error", err)
		res = classifier.Result{}
	}

	act, err := s.router.Route(r.Context(), sessionID, req.Message, personaSel, res)
	if err != nil {
		s.writeRouteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:    sessionID,
		ResponseText: act.Text,
		PersonaUsed:  string(act.Persona),
		Intent:       act.Intent,
		Confidence:   act.Confidence,
		Crisis:       act.Crisis,
	})
}

type sessionSummary struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Persona      string    `json:"persona"`
	MessageCount int       `json:"message_count"`
	Depth        int       `json:"depth"`
	Crisis       bool      `json:"crisis"`
}

// handleGetSession returns a summary without any turn text: the
// transport never exposes stored conversation content.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeRouteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionSummary{
		SessionID:    sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastActiveAt: sess.LastActiveAt,
		Persona:      string(sess.Persona),
		MessageCount: len(sess.Turns),
		Depth:        sess.Depth,
		Crisis:       sess.InCrisis(),
	})
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	exp, err := s.store.Export(r.PathValue("id"))
	if err != nil {
		s.writeRouteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.PathValue("id")); err != nil {
		s.writeRouteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"personas": persona.List()})
}

type statisticResponse struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	EpsilonUsed float64 `json:"epsilon_used"`
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	stat, ok := s.statistics[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown statistic"})
		return
	}

	epsilon, err := strconv.ParseFloat(r.URL.Query().Get("epsilon"), 64)
	if err != nil {
		badRequest(w, "epsilon must be a number")
		return
	}

	value, err := s.engine.Protect(privacy.Query{
		Name:        name,
		Value:       stat.compute(s.store.Aggregate()),
		Sensitivity: stat.sensitivity,
		Epsilon:     epsilon,
		Mechanism:   stat.mechanism,
		Delta:       s.delta,
	})
	switch {
	case errors.Is(err, privacy.ErrInvalidQuery):
		badRequest(w, err.Error())
		return
	case errors.Is(err, privacy.ErrBudgetExhausted):
		// Fail closed: refuse rather than degrade.
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "privacy budget exhausted"})
		return
	case err != nil:
		internalError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, statisticResponse{
		Name:        name,
		Value:       value,
		EpsilonUsed: epsilon,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	mode := "http"
	if _, ok := s.classifier.(classifier.Keyword); ok {
		mode = "keyword"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"classifier":         mode,
		"active_sessions":    s.store.Len(),
		"personas_available": len(persona.List()),
	})
}

func (s *Server) writeRouteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; 499-style cutoff, nothing was committed.
		writeJSON(w, http.StatusRequestTimeout, map[string]string{"error": "request aborted"})
	default:
		internalError(w, s.logger, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
