// Package persona holds the closed persona set's presentation data
// and the template table the router selects deterministic responses
// from. Personas are a data table, not a type hierarchy.
package persona

import "EmpathyChat/internal/session"

// Info describes one persona for the listing endpoint.
type Info struct {
	Name        session.Persona   `json:"name"`
	Description string            `json:"description"`
	Style       map[string]string `json:"style"`
}

// List returns the closed persona set.
func List() []Info {
	return []Info{
		{
			Name:        session.PersonaFriend,
			Description: "A supportive friend who listens and provides emotional comfort",
			Style: map[string]string{
				"formality":     "casual",
				"empathy_level": "high",
				"tone":          "warm and friendly",
			},
		},
		{
			Name:        session.PersonaCounselor,
			Description: "A professional counselor offering structured coping techniques",
			Style: map[string]string{
				"formality":     "professional",
				"empathy_level": "high",
				"tone":          "calm and structured",
			},
		},
		{
			Name:        session.PersonaMedicalOfficer,
			Description: "A clinical voice giving careful, boundaried health guidance",
			Style: map[string]string{
				"formality":     "clinical",
				"empathy_level": "moderate",
				"tone":          "precise and careful",
			},
		},
	}
}

// Stage is the coarse conversation phase used for context-aware
// template variation.
type Stage string

// Conversation stages. Any matches templates not bound to a stage.
const (
	StageAny         Stage = ""
	StageEarly       Stage = "early"
	StageEstablished Stage = "established"
)

// establishedDepth is the user-turn count after which a conversation
// counts as established.
const establishedDepth = 2

// StageFor maps a session's depth counter onto a stage.
func StageFor(depth int) Stage {
	if depth > establishedDepth {
		return StageEstablished
	}
	return StageEarly
}
