// Package session holds the per-conversation state and the keyed,
// time-bounded store that owns it.
package session

import "time"

// Persona selects the response voice for a session. The set is closed.
type Persona string

// Available personas.
const (
	PersonaFriend         Persona = "friend"
	PersonaCounselor      Persona = "counselor"
	PersonaMedicalOfficer Persona = "medical_officer"
)

// ParsePersona maps a request string onto the closed persona set.
func ParsePersona(s string) (Persona, bool) {
	switch Persona(s) {
	case PersonaFriend, PersonaCounselor, PersonaMedicalOfficer:
		return Persona(s), true
	}
	return "", false
}

// Role identifies who produced a turn.
type Role string

// Turn roles.
const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// State is the session's routing state. The only transition is
// Normal -> Crisis; there is no way back within a session's life.
type State string

// Session states.
const (
	StateNormal State = "normal"
	StateCrisis State = "crisis"
)

// Turn is one message in a session. Text is stored only after
// anonymization; raw text is never persisted.
type Turn struct {
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Intent     string    `json:"intent,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is the per-conversation state. All mutation goes through
// Store.Update; nothing outside the store writes these fields.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Persona      Persona   `json:"persona"`
	Turns        []Turn    `json:"turns"`
	Depth        int       `json:"depth"`
	State        State     `json:"state"`
}

// InCrisis reports whether the crisis state has been entered.
func (s *Session) InCrisis() bool {
	return s.State == StateCrisis
}

// EnterCrisis transitions the session to the crisis state. The
// transition is one-way; calling it again is a no-op.
func (s *Session) EnterCrisis() {
	s.State = StateCrisis
}

// clone returns a deep copy so callers can never alias stored state.
func (s *Session) clone() Session {
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	copy(out.Turns, s.Turns)
	return out
}
