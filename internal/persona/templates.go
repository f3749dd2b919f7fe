package persona

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"EmpathyChat/internal/session"
)

// Crisis holds the crisis-indicator keyword table and the fixed,
// persona-independent resource response.
type Crisis struct {
	Keywords []string `toml:"keywords"`
	Response string   `toml:"response"`
}

// templateKey addresses one candidate bucket.
type templateKey struct {
	persona session.Persona
	intent  string
	stage   Stage
}

// TemplateStore maps (persona, intent, stage) to candidate response
// strings. Lookups fall back from the session's stage to stage-free
// templates.
type TemplateStore struct {
	templates map[templateKey][]string
	crisis    Crisis
}

// fileFormat is the TOML shape accepted by LoadFile.
type fileFormat struct {
	Crisis    *Crisis `toml:"crisis"`
	Templates []struct {
		Persona string   `toml:"persona"`
		Intent  string   `toml:"intent"`
		Stage   string   `toml:"stage"`
		Texts   []string `toml:"texts"`
	} `toml:"template"`
}

// Default returns the built-in template table and crisis config.
func Default() *TemplateStore {
	ts := &TemplateStore{
		templates: make(map[templateKey][]string),
		crisis:    defaultCrisis(),
	}
	for k, v := range defaultTemplates() {
		ts.templates[k] = v
	}
	return ts
}

// LoadFile returns the built-in table with the TOML file's templates
// and crisis config layered on top. File templates replace the
// built-in bucket for the same (persona, intent, stage).
func LoadFile(path string) (*TemplateStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var ff fileFormat
	if err := toml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse template file: %w", err)
	}

	ts := Default()
	if ff.Crisis != nil {
		if len(ff.Crisis.Keywords) > 0 {
			ts.crisis.Keywords = ff.Crisis.Keywords
		}
		if ff.Crisis.Response != "" {
			ts.crisis.Response = ff.Crisis.Response
		}
	}
	for _, t := range ff.Templates {
		p, ok := session.ParsePersona(t.Persona)
		if !ok {
			return nil, fmt.Errorf("template file: unknown persona %q", t.Persona)
		}
		if t.Intent == "" || len(t.Texts) == 0 {
			return nil, fmt.Errorf("template file: persona %q entry needs intent and texts", t.Persona)
		}
		ts.templates[templateKey{p, t.Intent, Stage(t.Stage)}] = t.Texts
	}
	return ts, nil
}

// Lookup returns the candidate templates for (persona, intent) at the
// given stage, falling back to stage-free templates. An empty slice
// means no template applies and the caller should take the generative
// path.
func (ts *TemplateStore) Lookup(p session.Persona, intent string, stage Stage) []string {
	if intent == "" {
		return nil
	}
	if c, ok := ts.templates[templateKey{p, intent, stage}]; ok {
		return c
	}
	if c, ok := ts.templates[templateKey{p, intent, StageAny}]; ok {
		return c
	}
	return nil
}

// Crisis returns the crisis keyword table and resource response.
func (ts *TemplateStore) Crisis() Crisis {
	return ts.crisis
}

func defaultCrisis() Crisis {
	return Crisis{
		Keywords: []string{
			"suicide", "kill myself", "end my life", "die",
			"death wish", "not worth living", "end it all", "harm myself",
		},
		Response: "I'm very concerned about what you're sharing. Please reach out to a crisis " +
			"helpline immediately. You can call or text the Suicide and Crisis Lifeline at 988, " +
			"or text HELLO to the Crisis Text Line at 741741. Your life matters, and there are " +
			"people who want to help you right now.",
	}
}

func defaultTemplates() map[templateKey][]string {
	return map[templateKey][]string{
		// Friend: casual, warm.
		{session.PersonaFriend, "greeting", StageAny}: {
			"Hey! Good to hear from you! How are you doing today?",
			"Hi there! What's been going on with you?",
			"Hello! I'm here for you. What's on your mind?",
		},
		{session.PersonaFriend, "sad", StageAny}: {
			"I'm really sorry you're feeling this way. Want to talk about it? I'm here for you.",
			"That sounds really tough. I'm here to listen, no judgment. What's been going on?",
			"I can hear that you're going through a hard time. You don't have to face this alone.",
		},
		{session.PersonaFriend, "stressed", StageEarly}: {
			"Wow, that sounds overwhelming. Take a deep breath with me. Want to talk through it?",
			"Stress is so tough. What's been weighing on you the most?",
			"I hear you. Sometimes everything feels like too much. Let's break it down together.",
		},
		{session.PersonaFriend, "stressed", StageEstablished}: {
			"We've talked through {turn_count} things already, and you're still showing up. What's the biggest stressor right now?",
			"You've been carrying a lot through this conversation. How are you holding up with everything?",
		},
		{session.PersonaFriend, "anxious", StageAny}: {
			"Anxiety can feel so scary. I'm here with you. What's making you feel anxious?",
			"Those anxious feelings are real, and they're valid. Want to share what's on your mind?",
			"I understand how unsettling anxiety can be. You're not alone in this.",
		},
		{session.PersonaFriend, "happy", StageAny}: {
			"That's awesome! I'm so glad you're feeling good!",
			"I love hearing that! What's making you happy?",
			"That's wonderful! Tell me more about what's going well!",
		},
		{session.PersonaFriend, "thanks", StageAny}: {
			"Of course! That's what friends are for!",
			"Anytime! I'm always here when you need someone to talk to.",
			"You're so welcome! I'm glad I could help.",
		},
		{session.PersonaFriend, "goodbye", StageAny}: {
			"Take care of yourself! I'm here whenever you need me.",
			"See you soon! Remember, I'm just a message away.",
			"Bye for now! Hope things get better. Talk soon!",
		},

		// Counselor: structured, technique-oriented.
		{session.PersonaCounselor, "greeting", StageAny}: {
			"Hello. I'm here to support you. What brings you here today?",
			"Good to see you. How have you been feeling?",
			"Welcome. What would you like to discuss today?",
		},
		{session.PersonaCounselor, "sad", StageAny}: {
			"I hear that you're feeling sad. Sadness is a normal emotion, but when it persists it's important to address it. Can you tell me more about what's contributing to these feelings?",
			"Thank you for sharing that you're feeling sad. Let's explore this together. When did you first start noticing these feelings?",
		},
		{session.PersonaCounselor, "anxious", StageAny}: {
			"Anxiety can be very distressing. Let's try a grounding exercise: name five things you can see around you right now.",
			"Anxiety often involves worrying about future events. Let's focus on what's within your control right now. What's one thing you can control in this moment?",
		},
		{session.PersonaCounselor, "stressed", StageEarly}: {
			"Stress is your body's response to demands. Breaking tasks into smaller steps often reduces overwhelm. What feels most overwhelming right now?",
			"It's understandable to feel stressed. Quick daily practices like mindfulness can help. What parts of your day feel most demanding?",
		},
		{session.PersonaCounselor, "stressed", StageEstablished}: {
			"Earlier you mentioned some of what's been demanding your energy. Which of the strategies we discussed have you been able to try?",
			"We've covered a lot of ground together. Let's take stock: what's one stressor that feels smaller now, and one that still feels heavy?",
		},
		{session.PersonaCounselor, "depressed", StageAny}: {
			"Depression can feel overwhelming, but it is treatable. You've taken an important first step by reaching out. Have you been able to maintain your daily routines?",
			"I understand that you're experiencing low mood. This deserves care, and I encourage you to speak with a healthcare provider. In the meantime, let's discuss some coping strategies.",
		},
		{session.PersonaCounselor, "thanks", StageAny}: {
			"You're welcome. Recognizing when support helps is itself a skill.",
			"I'm glad this was useful. We can pick this up again whenever you need.",
		},
		{session.PersonaCounselor, "goodbye", StageAny}: {
			"Take care. Be gentle with yourself this week.",
			"Goodbye for now. Remember the techniques we discussed.",
		},

		// Medical officer: clinical, boundaried.
		{session.PersonaMedicalOfficer, "greeting", StageAny}: {
			"Hello. I can offer general wellbeing guidance. What would you like to discuss?",
			"Good day. How can I help with your health concerns today?",
		},
		{session.PersonaMedicalOfficer, "anxious", StageAny}: {
			"Persistent anxiety can have physical effects such as disturbed sleep and tension. If symptoms continue for more than two weeks, consider consulting a clinician. Can you describe what you're experiencing?",
			"Anxiety is common and manageable. Regular sleep, reduced caffeine, and breathing exercises are reasonable first steps. How long have you felt this way?",
		},
		{session.PersonaMedicalOfficer, "stressed", StageAny}: {
			"Chronic stress can affect sleep, appetite and concentration. Tracking when symptoms occur helps identify triggers. Have you noticed any physical symptoms?",
			"Stress responses are physiological. Short structured breaks and consistent sleep timing measurably reduce load. What does your current routine look like?",
		},
		{session.PersonaMedicalOfficer, "depressed", StageAny}: {
			"Low mood lasting more than two weeks warrants professional assessment. I am not a substitute for a clinician, but I can help you prepare what to discuss. Have you noticed changes in sleep or appetite?",
		},
		{session.PersonaMedicalOfficer, "sad", StageAny}: {
			"Thank you for telling me. Persistent sadness is worth monitoring. Have you noticed changes in sleep, appetite or energy alongside it?",
		},
		{session.PersonaMedicalOfficer, "thanks", StageAny}: {
			"You're welcome. Please seek in-person care if symptoms worsen.",
		},
		{session.PersonaMedicalOfficer, "goodbye", StageAny}: {
			"Goodbye. Do consult a clinician if any symptom persists or worsens.",
		},
	}
}
