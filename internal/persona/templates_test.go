package persona

import (
	"os"
	"path/filepath"
	"testing"

	"EmpathyChat/internal/session"
)

func TestStageFor(t *testing.T) {
	tests := []struct {
		depth int
		want  Stage
	}{
		{0, StageEarly},
		{2, StageEarly},
		{3, StageEstablished},
		{10, StageEstablished},
	}
	for _, tt := range tests {
		if got := StageFor(tt.depth); got != tt.want {
			t.Errorf("StageFor(%d) = %q, want %q", tt.depth, got, tt.want)
		}
	}
}

func TestLookup(t *testing.T) {
	ts := Default()

	// Stage-specific bucket wins.
	early := ts.Lookup(session.PersonaFriend, "stressed", StageEarly)
	established := ts.Lookup(session.PersonaFriend, "stressed", StageEstablished)
	if len(early) == 0 || len(established) == 0 {
		t.Fatal("expected friend/stressed templates for both stages")
	}
	if early[0] == established[0] {
		t.Error("early and established buckets are identical")
	}

	// Stage falls back to stage-free templates.
	if got := ts.Lookup(session.PersonaFriend, "sad", StageEstablished); len(got) == 0 {
		t.Error("no fallback to stage-free templates")
	}

	// Unmapped intent yields nothing.
	if got := ts.Lookup(session.PersonaFriend, "quantum_physics", StageEarly); got != nil {
		t.Errorf("unexpected templates for unmapped intent: %v", got)
	}
	if got := ts.Lookup(session.PersonaFriend, "", StageEarly); got != nil {
		t.Errorf("unexpected templates for empty intent: %v", got)
	}
}

func TestDefaultCrisis(t *testing.T) {
	c := Default().Crisis()
	if len(c.Keywords) == 0 {
		t.Fatal("no crisis keywords")
	}
	if c.Response == "" {
		t.Fatal("empty crisis response")
	}
}

func TestLoadFileOverridesBuiltins(t *testing.T) {
	content := `
[crisis]
keywords = ["custom keyword"]
response = "Custom crisis resources."

[[template]]
persona = "friend"
intent = "stressed"
stage = "early"
texts = ["Custom early stressed response."]

[[template]]
persona = "counselor"
intent = "lonely"
texts = ["You mentioned feeling lonely. Tell me more."]
`
	path := filepath.Join(t.TempDir(), "templates.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	ts, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if got := ts.Crisis().Keywords; len(got) != 1 || got[0] != "custom keyword" {
		t.Errorf("crisis keywords = %v", got)
	}
	if got := ts.Crisis().Response; got != "Custom crisis resources." {
		t.Errorf("crisis response = %q", got)
	}

	got := ts.Lookup(session.PersonaFriend, "stressed", StageEarly)
	if len(got) != 1 || got[0] != "Custom early stressed response." {
		t.Errorf("overridden bucket = %v", got)
	}

	// New intents are added; untouched builtins survive.
	if got := ts.Lookup(session.PersonaCounselor, "lonely", StageEarly); len(got) != 1 {
		t.Errorf("new intent bucket = %v", got)
	}
	if got := ts.Lookup(session.PersonaFriend, "sad", StageEarly); len(got) == 0 {
		t.Error("builtin bucket lost after file load")
	}
}

func TestLoadFileRejectsUnknownPersona(t *testing.T) {
	content := `
[[template]]
persona = "wizard"
intent = "greeting"
texts = ["hello"]
`
	path := filepath.Join(t.TempDir(), "templates.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unknown persona")
	}
}

func TestListIsClosedSet(t *testing.T) {
	infos := List()
	if len(infos) != 3 {
		t.Fatalf("got %d personas, want 3", len(infos))
	}
	for _, info := range infos {
		if _, ok := session.ParsePersona(string(info.Name)); !ok {
			t.Errorf("listed persona %q does not parse", info.Name)
		}
		if info.Description == "" || len(info.Style) == 0 {
			t.Errorf("persona %q missing description or style", info.Name)
		}
	}
}
