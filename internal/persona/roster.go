package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rosterFile struct {
	Characters []Personality `yaml:"characters"`
}

// LoadRoster reads the character roster from a YAML file and validates every
// entry. Character IDs must be unique within the roster.
func LoadRoster(path string) ([]Personality, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster parses roster YAML bytes.
func ParseRoster(data []byte) ([]Personality, error) {
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if len(file.Characters) == 0 {
		return nil, fmt.Errorf("roster has no characters")
	}

	seen := map[string]struct{}{}
	for i := range file.Characters {
		p := &file.Characters[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("roster entry %d: %w", i, err)
		}
		if _, dup := seen[p.CharacterID]; dup {
			return nil, fmt.Errorf("duplicate character_id %q", p.CharacterID)
		}
		seen[p.CharacterID] = struct{}{}
	}
	return file.Characters, nil
}

// DefaultRoster returns the built-in demo cast used when no roster file is
// configured.
func DefaultRoster() []Personality {
	return []Personality{
		{
			CharacterID:       "la-abuela",
			CharacterName:     "La Abuela Rosa",
			CharacterType:     "neighborhood elder",
			PersonalityTraits: "warm, nostalgic, quick with proverbs, fiercely local",
			Background:        "Has lived in the same barrio for sixty years and remembers every festival.",
			LanguageStyle:     "folksy Spanish-inflected warmth, short sentences",
			TopicsOfInterest: map[string]float64{
				"festival":  0.9,
				"comunidad": 0.8,
				"cocina":    0.7,
				"tradicion": 0.9,
			},
			TonePreferences:     map[string]string{"news": "warm", "reply": "teasing", "default": "warm"},
			EngagementThreshold: 0.45,
			BaseEnergyLevel:     0.6,
			SignaturePhrases:    []string{"¡Ay, mijo!", "Como decía mi madre..."},
			CulturalContext:     []string{"barrio", "tradicion", "familia"},
		},
		{
			CharacterID:       "el-cronista",
			CharacterName:     "El Cronista",
			CharacterType:     "cynical sports columnist",
			PersonalityTraits: "sardonic, statistics-obsessed, allergic to hype",
			Background:        "Twenty years covering the local derby from the cheap seats.",
			LanguageStyle:     "dry one-liners, sharp metaphors",
			TopicsOfInterest: map[string]float64{
				"futbol":   1.0,
				"derby":    0.9,
				"deportes": 0.8,
				"festival": 0.2,
			},
			TonePreferences:     map[string]string{"news": "dry", "reply": "combative", "default": "dry"},
			EngagementThreshold: 0.55,
			BaseEnergyLevel:     0.8,
			SignaturePhrases:    []string{"Los números no mienten.", "Otra vez lo mismo."},
			CulturalContext:     []string{"futbol", "derby"},
		},
	}
}
