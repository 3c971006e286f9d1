package persona

import (
	"strings"
	"testing"
)

func TestParseRoster(t *testing.T) {
	data := []byte(`
characters:
  - character_id: tester
    character_name: The Tester
    character_type: skeptic
    personality_traits: picky
    engagement_threshold: 0.6
    base_energy_level: 0.5
    topics_of_interest:
      qa: 0.9
      releases: 0.4
    tone_preferences:
      news: dry
    signature_phrases:
      - "prove it"
    cultural_context:
      - engineering
`)
	roster, err := ParseRoster(data)
	if err != nil {
		t.Fatalf("parse roster: %v", err)
	}
	if len(roster) != 1 {
		t.Fatalf("expected 1 character, got %d", len(roster))
	}
	p := roster[0]
	if p.CharacterID != "tester" || p.CharacterName != "The Tester" {
		t.Fatalf("unexpected identity: %+v", p)
	}
	if p.TopicsOfInterest["qa"] != 0.9 {
		t.Fatalf("expected qa weight 0.9, got %v", p.TopicsOfInterest["qa"])
	}
}

func TestParseRosterRejectsDuplicates(t *testing.T) {
	data := []byte(`
characters:
  - character_id: twin
    character_name: Twin One
    engagement_threshold: 0.5
  - character_id: twin
    character_name: Twin Two
    engagement_threshold: 0.5
`)
	if _, err := ParseRoster(data); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestValidateBounds(t *testing.T) {
	p := Personality{CharacterID: "x", CharacterName: "X", EngagementThreshold: 1.2}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected threshold bounds error")
	}
	p = Personality{
		CharacterID: "x", CharacterName: "X", EngagementThreshold: 0.5,
		TopicsOfInterest: map[string]float64{"bad": 1.5},
	}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected topic weight bounds error")
	}
}

func TestSystemPromptStaysInCharacter(t *testing.T) {
	roster := DefaultRoster()
	for _, p := range roster {
		if err := p.Validate(); err != nil {
			t.Fatalf("default roster entry %s invalid: %v", p.CharacterID, err)
		}
		prompt := p.SystemPrompt()
		if !strings.Contains(prompt, p.CharacterName) {
			t.Fatalf("prompt for %s does not name the character", p.CharacterID)
		}
		if !strings.Contains(prompt, "Never mention being an AI") {
			t.Fatalf("prompt for %s missing persona guard", p.CharacterID)
		}
	}
}

func TestToneFallback(t *testing.T) {
	p := Personality{
		LanguageStyle:   "plain",
		TonePreferences: map[string]string{"news": "dry", "default": "neutral"},
	}
	if got := p.Tone("news"); got != "dry" {
		t.Fatalf("expected dry, got %s", got)
	}
	if got := p.Tone("reply"); got != "neutral" {
		t.Fatalf("expected default fallback, got %s", got)
	}
	p.TonePreferences = nil
	if got := p.Tone("reply"); got != "plain" {
		t.Fatalf("expected language style fallback, got %s", got)
	}
}
