package ai

import (
	"context"
	"errors"

	"github.com/castline/castd/internal/persona"
)

// ErrNoProvider is returned by Unavailable for every generation call.
var ErrNoProvider = errors.New("no model provider configured")

// Unavailable is the provider used when no API key is configured. Every
// generation call fails, which the response generator degrades to fallback
// responses, so the rest of the system stays operable.
type Unavailable struct{}

func (Unavailable) GenerateCharacterResponse(context.Context, *persona.Personality, Prompt) (Response, error) {
	return Response{}, ErrNoProvider
}

func (Unavailable) GenerateNewsReaction(context.Context, *persona.Personality, string, string, string) (Response, error) {
	return Response{}, ErrNoProvider
}

func (Unavailable) ValidateConsistency(context.Context, *persona.Personality, string) (bool, error) {
	return false, ErrNoProvider
}

func (Unavailable) HealthCheck(context.Context) bool { return false }
