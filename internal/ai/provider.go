// Package ai defines the language-model provider boundary. Providers turn a
// personality plus context into text. Callers at the workflow layer rely on
// always receiving a structurally valid Response: provider errors are folded
// into a degraded fallback envelope, never propagated as exceptions.
package ai

import (
	"context"

	"github.com/castline/castd/internal/persona"
)

// Response is the uniform envelope every generation call resolves to.
type Response struct {
	Content             string         `json:"content"`
	ConfidenceScore     float64        `json:"confidence_score"`
	CharacterConsistent bool           `json:"character_consistency"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// Message is one prior exchange in a conversation history.
type Message struct {
	Role    string `json:"role"` // "user" or "character"
	Content string `json:"content"`
}

// Prompt is the bounded input assembled by the response generator: a fixed
// character-system block plus at most the last few history entries
// (most-recent-last) and the current context.
type Prompt struct {
	System      string
	Context     string
	History     []Message
	TargetTopic string
}

// Provider is the upstream language-model capability.
type Provider interface {
	GenerateCharacterResponse(ctx context.Context, p *persona.Personality, prompt Prompt) (Response, error)
	GenerateNewsReaction(ctx context.Context, p *persona.Personality, headline, content, emotionalContext string) (Response, error)
	ValidateConsistency(ctx context.Context, p *persona.Personality, content string) (bool, error)
	HealthCheck(ctx context.Context) bool
}

// Fallback builds the degraded response returned when a provider fails or
// times out. The error lands in metadata so callers can report it without
// ever seeing an exception cross the boundary.
func Fallback(reason string, err error) Response {
	meta := map[string]any{"fallback": true, "reason": reason}
	if err != nil {
		meta["error"] = err.Error()
	}
	return Response{
		Content:             "... (se quedó sin palabras)",
		ConfidenceScore:     0.0,
		CharacterConsistent: false,
		Metadata:            meta,
	}
}
