package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"EmpathyChat/internal/audit"
)

// ErrNotFound is returned for unknown or expired sessions. An expired
// session is indistinguishable from one that never existed.
var ErrNotFound = errors.New("session not found")

// turnContributionCap bounds how many turns a single session can
// contribute to the clamped turn aggregate, so the statistic has a
// declarable sensitivity.
const turnContributionCap = 20

// entry wraps a session with its own lock so updates to different
// sessions never serialize behind each other.
type entry struct {
	mu      sync.Mutex
	sess    Session
	deleted bool
}

// Store is the keyed, time-bounded holder of session state. The map
// lock guards membership; each entry's lock linearizes updates to
// that session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration
	audit    *audit.Log
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore creates a Store whose sessions expire after ttl of
// inactivity.
func NewStore(ttl time.Duration, aud *audit.Log, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		audit:    aud,
		logger:   logger,
		now:      time.Now,
	}
}

// Create registers a new session under a fresh opaque ID and returns
// a copy of it. The ID carries no user-identifying data.
func (st *Store) Create(p Persona) Session {
	if p == "" {
		p = PersonaFriend
	}
	now := st.now()
	sess := Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActiveAt: now,
		Persona:      p,
		State:        StateNormal,
	}

	st.mu.Lock()
	st.sessions[sess.ID] = &entry{sess: sess}
	st.mu.Unlock()

	st.logger.Info("created session", "session_id", sess.ID, "persona", p)
	return sess
}

// Get returns a copy of the session, or ErrNotFound if it is unknown
// or has sat idle past the TTL.
func (st *Store) Get(id string) (Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted || st.expired(&e.sess) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.sess.clone(), nil
}

// Update applies one atomic transformation to the session. The
// mutator runs on a private copy; if it returns an error nothing is
// committed. On success LastActiveAt is refreshed and a copy of the
// new state is returned. Updates to the same session are serialized;
// different sessions proceed independently.
func (st *Store) Update(id string, mutate func(*Session) error) (Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted || st.expired(&e.sess) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := e.sess.clone()
	if err := mutate(&next); err != nil {
		return Session{}, err
	}
	next.LastActiveAt = st.now()
	e.sess = next
	return next.clone(), nil
}

// Delete removes the session. Deleting an unknown session returns
// ErrNotFound.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	e, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	st.logger.Info("deleted session", "session_id", id)
	return nil
}

// SweepExpired removes every session idle past the TTL, emitting one
// session_expired audit record per removal, and returns the count.
func (st *Store) SweepExpired() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, e := range st.sessions {
		e.mu.Lock()
		idle := st.now().Sub(e.sess.LastActiveAt)
		if idle > st.ttl {
			e.deleted = true
			delete(st.sessions, id)
			removed++
			if st.audit != nil {
				st.audit.Record(audit.KindSessionExpired, id,
					fmt.Sprintf("idle=%s turns=%d", idle.Truncate(time.Second), len(e.sess.Turns)))
			}
		}
		e.mu.Unlock()
	}

	if removed > 0 {
		st.logger.Info("swept expired sessions", "removed", removed)
	}
	return removed
}

// Export is an aggregated, anonymized view of one session: counts
// only, never turn text. It is the shape handed to the privacy engine
// before any cross-session reporting.
type Export struct {
	SessionID    string         `json:"session_id"`
	Persona      Persona        `json:"persona"`
	Crisis       bool           `json:"crisis"`
	TurnCount    int            `json:"turn_count"`
	IntentCounts map[string]int `json:"intent_counts"`
}

// Export produces the aggregated view of a single session.
func (st *Store) Export(id string) (Export, error) {
	sess, err := st.Get(id)
	if err != nil {
		return Export{}, err
	}

	out := Export{
		SessionID:    sess.ID,
		Persona:      sess.Persona,
		Crisis:       sess.InCrisis(),
		TurnCount:    len(sess.Turns),
		IntentCounts: make(map[string]int),
	}
	for _, t := range sess.Turns {
		if t.Role == RoleUser && t.Intent != "" {
			out.IntentCounts[t.Intent]++
		}
	}
	return out, nil
}

// Aggregate is an exact cohort-level summary across all live
// sessions. It must only leave the process after passing through the
// privacy engine.
type Aggregate struct {
	Sessions       int
	Turns          int
	ClampedTurns   int // per-session contribution capped at turnContributionCap
	CrisisSessions int
	UserTurns      int
	ConfidenceSum  float64
}

// CrisisRate is the fraction of sessions in the crisis state.
func (a Aggregate) CrisisRate() float64 {
	if a.Sessions == 0 {
		return 0
	}
	return float64(a.CrisisSessions) / float64(a.Sessions)
}

// MeanConfidence is the mean classifier confidence over user turns.
func (a Aggregate) MeanConfidence() float64 {
	if a.UserTurns == 0 {
		return 0
	}
	return a.ConfidenceSum / float64(a.UserTurns)
}

// AvgTurnsPerSession is the mean turn count per session.
func (a Aggregate) AvgTurnsPerSession() float64 {
	if a.Sessions == 0 {
		return 0
	}
	return float64(a.Turns) / float64(a.Sessions)
}

// Aggregate computes the exact cohort summary over all non-expired
// sessions.
func (st *Store) Aggregate() Aggregate {
	st.mu.RLock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	var agg Aggregate
	for _, e := range entries {
		e.mu.Lock()
		if e.deleted || st.expired(&e.sess) {
			e.mu.Unlock()
			continue
		}
		agg.Sessions++
		agg.Turns += len(e.sess.Turns)
		agg.ClampedTurns += min(len(e.sess.Turns), turnContributionCap)
		if e.sess.InCrisis() {
			agg.CrisisSessions++
		}
		for _, t := range e.sess.Turns {
			if t.Role == RoleUser {
				agg.UserTurns++
				agg.ConfidenceSum += t.Confidence
			}
		}
		e.mu.Unlock()
	}
	return agg
}

// Len returns the number of live (non-expired) sessions.
func (st *Store) Len() int {
	return st.Aggregate().Sessions
}

func (st *Store) lookup(id string) (*entry, error) {
	st.mu.RLock()
	e, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (st *Store) expired(s *Session) bool {
	return st.now().Sub(s.LastActiveAt) > st.ttl
}
