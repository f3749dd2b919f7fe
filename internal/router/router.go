// Package router selects the response path for each incoming turn:
// crisis override first, then the deterministic template path, then
// the generative fallback. It is the only component that decides the
// crisis flag and persona; it writes them back through the session
// store's update operation.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"EmpathyChat/internal/anonymizer"
	"EmpathyChat/internal/audit"
	"EmpathyChat/internal/classifier"
	"EmpathyChat/internal/generative"
	"EmpathyChat/internal/persona"
	"EmpathyChat/internal/session"
)

// Path identifies which branch produced a response.
type Path string

// Response paths, in priority order.
const (
	PathCrisis     Path = "crisis"
	PathTemplate   Path = "template"
	PathGenerative Path = "generative"
	PathGeneric    Path = "generic_fallback"
)

// genericFallback is returned whenever the generative collaborator
// fails. Collaborator failures never reach the user as errors.
const genericFallback = "I hear you, and I want to make sure I understand. " +
	"Could you tell me a little more about what's on your mind?"

// Action is the outcome of routing one turn.
type Action struct {
	Text       string
	Persona    session.Persona
	Crisis     bool
	Path       Path
	Intent     string
	Confidence float64
}

// Config holds the router's tunables.
type Config struct {
	TemplateThreshold float64       // confidence above which templates are preferred
	HistoryWindow     int           // turns of anonymized history handed to the fallback
	FallbackTimeout   time.Duration // bound on the generative call
}

// Router routes turns. It holds no per-session state of its own; all
// conversation state lives in the store.
type Router struct {
	store     *session.Store
	templates *persona.TemplateStore
	generator generative.Generator
	anon      *anonymizer.Anonymizer
	audit     *audit.Log
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	cfg       Config

	// pickIndex selects among template candidates; swapped in tests.
	pickIndex func(n int) int
}

// New creates a Router.
func New(
	store *session.Store,
	templates *persona.TemplateStore,
	generator generative.Generator,
	anon *anonymizer.Anonymizer,
	aud *audit.Log,
	logger *slog.Logger,
	tracer trace.Tracer,
	meter metric.Meter,
	cfg Config,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TemplateThreshold == 0 {
		cfg.TemplateThreshold = 0.7
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.FallbackTimeout == 0 {
		cfg.FallbackTimeout = 10 * time.Second
	}
	return &Router{
		store:     store,
		templates: templates,
		generator: generator,
		anon:      anon,
		audit:     aud,
		logger:    logger,
		tracer:    tracer,
		meter:     meter,
		cfg:       cfg,
		pickIndex: rand.IntN,
	}
}

// Route decides the response for one user message and commits the
// resulting turn pair atomically. The crisis check runs before
// anything that can fail; external calls happen before the session is
// locked for the final update, so one slow collaborator never blocks
// unrelated turns.
func (r *Router) Route(ctx context.Context, sessionID, rawText string, personaSel session.Persona, cls classifier.Result) (Action, error) {
	ctx, span := r.tracer.Start(ctx, "route_turn")
	defer span.End()

	sess, err := r.store.Get(sessionID)
	if err != nil {
		return Action{}, err
	}

	p := sess.Persona
	if personaSel != "" {
		p = personaSel
	}

	cleanText, hits := r.anon.Anonymize(rawText)
	if len(hits) > 0 {
		r.audit.Record(audit.KindAnonymized, sess.ID, "patterns="+joinKinds(hits))
	}

	crisis := sess.InCrisis() || r.matchesCrisisKeyword(rawText)

	var (
		responseText string
		path         Path
	)
	switch {
	case crisis:
		// Highest priority, bypasses confidence routing entirely. The
		// crisis response is persona-independent and involves no call
		// that can fail.
		responseText = r.templates.Crisis().Response
		path = PathCrisis
		r.audit.Record(audit.KindCrisisTriggered, sess.ID,
			fmt.Sprintf("already_flagged=%t", sess.InCrisis()))

	default:
		if cls.Confidence > r.cfg.TemplateThreshold {
			candidates := r.templates.Lookup(p, cls.Intent, persona.StageFor(sess.Depth))
			if len(candidates) > 0 {
				tmpl := candidates[r.pickIndex(len(candidates))]
				responseText = r.renderSlots(tmpl, &sess)
				path = PathTemplate
			}
		}
		if path == "" {
			responseText, path = r.generate(ctx, &sess, cleanText)
		}
	}

	// Nothing has been committed yet; an aborted request commits
	// nothing at all.
	if err := ctx.Err(); err != nil {
		return Action{}, err
	}

	// System text is anonymized too: the stored-turn invariant holds
	// for every role, and generative output can echo what the user
	// typed.
	storedResponse, _ := r.anon.Anonymize(responseText)

	now := time.Now()
	updated, err := r.store.Update(sess.ID, func(s *session.Session) error {
		s.Persona = p
		if crisis {
			s.EnterCrisis()
		}
		s.Depth++
		s.Turns = append(s.Turns,
			session.Turn{
				Role:       session.RoleUser,
				Text:       cleanText,
				Intent:     cls.Intent,
				Confidence: cls.Confidence,
				Timestamp:  now,
			},
			session.Turn{
				Role:      session.RoleSystem,
				Text:      storedResponse,
				Timestamp: now,
			},
		)
		return nil
	})
	if err != nil {
		return Action{}, err
	}

	r.recordRouteMetric(ctx, path)
	r.logger.Info("routed turn",
		"session_id", sess.ID,
		"path", path,
		"persona", p,
		"intent", cls.Intent,
		"confidence", cls.Confidence,
		"crisis", crisis,
		"depth", updated.Depth,
	)

	return Action{
		Text:       responseText,
		Persona:    p,
		Crisis:     crisis,
		Path:       path,
		Intent:     cls.Intent,
		Confidence: cls.Confidence,
	}, nil
}

// generate runs the generative fallback with bounded time, degrading
// to the fixed generic response on any failure.
func (r *Router) generate(ctx context.Context, sess *session.Session, cleanText string) (string, Path) {
	genCtx, cancel := context.WithTimeout(ctx, r.cfg.FallbackTimeout)
	defer cancel()

	history := append(recentTurns(sess.Turns, r.cfg.HistoryWindow), session.Turn{
		Role: session.RoleUser,
		Text: cleanText,
	})

	text, err := r.generator.Generate(genCtx, history)
	if err != nil {
		r.logger.Warn("generative fallback failed, using generic response",
			"session_id", sess.ID, "error", err)
		return genericFallback, PathGeneric
	}
	return text, PathGenerative
}

// matchesCrisisKeyword scans the raw text so redaction can never mask
// a crisis signal.
func (r *Router) matchesCrisisKeyword(rawText string) bool {
	lower := strings.ToLower(rawText)
	for _, kw := range r.templates.Crisis().Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// renderSlots substitutes context slots in a template.
func (r *Router) renderSlots(tmpl string, sess *session.Session) string {
	return strings.NewReplacer(
		"{turn_count}", strconv.Itoa(sess.Depth),
		"{persona}", string(sess.Persona),
	).Replace(tmpl)
}

func (r *Router) recordRouteMetric(ctx context.Context, path Path) {
	counter, err := r.meter.Int64Counter(
		"chat.turns.routed",
		metric.WithDescription("Turns routed, by response path"),
	)
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", string(path))))
}

func recentTurns(turns []session.Turn, window int) []session.Turn {
	if len(turns) <= window {
		return append([]session.Turn(nil), turns...)
	}
	return append([]session.Turn(nil), turns[len(turns)-window:]...)
}

func joinKinds(kinds []anonymizer.PatternKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}
