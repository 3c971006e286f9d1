// Package persona holds the static, declarative description of a character.
// A Personality is created once at startup and shared read-only by every
// workflow invocation for that character.
package persona

import (
	"fmt"
	"strings"
)

type Personality struct {
	CharacterID   string `yaml:"character_id" json:"character_id"`
	CharacterName string `yaml:"character_name" json:"character_name"`
	CharacterType string `yaml:"character_type" json:"character_type"`

	PersonalityTraits string `yaml:"personality_traits" json:"personality_traits"`
	Background        string `yaml:"background" json:"background"`
	LanguageStyle     string `yaml:"language_style" json:"language_style"`

	// TopicsOfInterest maps a topic to its weight in [0,1].
	TopicsOfInterest map[string]float64 `yaml:"topics_of_interest" json:"topics_of_interest"`
	// TonePreferences maps a context label ("news", "reply", ...) to a tone.
	TonePreferences map[string]string `yaml:"tone_preferences" json:"tone_preferences"`

	EngagementThreshold float64  `yaml:"engagement_threshold" json:"engagement_threshold"`
	BaseEnergyLevel     float64  `yaml:"base_energy_level" json:"base_energy_level"`
	SignaturePhrases    []string `yaml:"signature_phrases" json:"signature_phrases"`
	CulturalContext     []string `yaml:"cultural_context" json:"cultural_context"`
}

func (p *Personality) Validate() error {
	if strings.TrimSpace(p.CharacterID) == "" {
		return fmt.Errorf("character_id is required")
	}
	if strings.TrimSpace(p.CharacterName) == "" {
		return fmt.Errorf("character %s: character_name is required", p.CharacterID)
	}
	if p.EngagementThreshold < 0 || p.EngagementThreshold > 1 {
		return fmt.Errorf("character %s: engagement_threshold %.2f out of [0,1]", p.CharacterID, p.EngagementThreshold)
	}
	for topic, weight := range p.TopicsOfInterest {
		if weight < 0 || weight > 1 {
			return fmt.Errorf("character %s: topic %q weight %.2f out of [0,1]", p.CharacterID, topic, weight)
		}
	}
	return nil
}

// Tone returns the preferred tone for a context label, falling back to the
// "default" entry and then to the language style.
func (p *Personality) Tone(contextLabel string) string {
	if tone, ok := p.TonePreferences[contextLabel]; ok {
		return tone
	}
	if tone, ok := p.TonePreferences["default"]; ok {
		return tone
	}
	return p.LanguageStyle
}

// SystemPrompt renders the fixed character-system block used as the model's
// system instruction. It is derived only from immutable personality fields.
func (p *Personality) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", p.CharacterName, orUnspecified(p.CharacterType, "a character"))
	if p.PersonalityTraits != "" {
		fmt.Fprintf(&b, "Personality: %s\n", p.PersonalityTraits)
	}
	if p.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", p.Background)
	}
	if p.LanguageStyle != "" {
		fmt.Fprintf(&b, "Speaking style: %s\n", p.LanguageStyle)
	}
	if len(p.CulturalContext) > 0 {
		fmt.Fprintf(&b, "Cultural context: %s\n", strings.Join(p.CulturalContext, ", "))
	}
	if len(p.SignaturePhrases) > 0 {
		fmt.Fprintf(&b, "Signature phrases you sometimes use: %s\n", strings.Join(p.SignaturePhrases, " | "))
	}
	b.WriteString("Always stay in character. Never mention being an AI or a language model.")
	return b.String()
}

func orUnspecified(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
