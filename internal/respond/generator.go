// Package respond produces character responses with a no-throw contract: a
// provider failure degrades to a fallback response instead of surfacing as an
// error, so one flaky upstream call never aborts a whole cycle.
package respond

import (
	"context"
	"strings"

	"github.com/castline/castd/internal/ai"
	"github.com/castline/castd/internal/persona"
)

const (
	// DefaultMaxHistory bounds the conversation window sent upstream.
	DefaultMaxHistory = 10
	// MinContentLen is the floor below which a response cannot count as
	// in-character.
	MinContentLen = 10
)

// Phrases that break the in-character illusion. Matched case-insensitively
// against the generated content.
var breakingPhrases = []string{
	"as an ai",
	"as a language model",
	"i am an ai",
	"i'm an ai",
	"soy una ia",
	"soy un modelo",
	"large language model",
}

// Generator wraps a provider with history trimming and consistency checking.
type Generator struct {
	provider   ai.Provider
	maxHistory int

	// crossCheck enables the provider-side consistency probe in addition to
	// the local heuristics. It is best-effort: a probe error never rejects a
	// response on its own.
	crossCheck bool
}

type Option func(*Generator)

// WithMaxHistory overrides the history window size.
func WithMaxHistory(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxHistory = n
		}
	}
}

// WithCrossCheck turns on the provider-side consistency probe.
func WithCrossCheck() Option {
	return func(g *Generator) { g.crossCheck = true }
}

func NewGenerator(provider ai.Provider, opts ...Option) *Generator {
	g := &Generator{provider: provider, maxHistory: DefaultMaxHistory}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces one in-character response for the given situation. It
// never returns an error: provider failures and empty outputs come back as a
// fallback response with CharacterConsistent=false.
func (g *Generator) Generate(ctx context.Context, p *persona.Personality, situation, targetTopic string, history []ai.Message) ai.Response {
	prompt := BuildPrompt(p, situation, targetTopic, history, g.maxHistory)

	resp, err := g.provider.GenerateCharacterResponse(ctx, p, prompt)
	return g.vet(ctx, p, resp, err)
}

// GenerateNewsReaction resolves the character's preferred tone and generates a
// reaction. Fresh reactions go through the provider's dedicated reaction call;
// once a conversation has history the uniform prompt path carries it, since
// the reaction call takes none.
func (g *Generator) GenerateNewsReaction(ctx context.Context, p *persona.Personality, headline, content, toneLabel string, history []ai.Message) ai.Response {
	tone := p.Tone(toneLabel)
	if len(history) > 0 {
		return g.Generate(ctx, p, NewsSituation(headline, content, tone), "", history)
	}
	resp, err := g.provider.GenerateNewsReaction(ctx, p, headline, content, tone)
	return g.vet(ctx, p, resp, err)
}

// vet applies the no-throw contract to a provider result: errors and empty
// outputs degrade to fallbacks, everything else gets the consistency check.
func (g *Generator) vet(ctx context.Context, p *persona.Personality, resp ai.Response, err error) ai.Response {
	if err != nil {
		return ai.Fallback("provider error", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return ai.Fallback("empty response", nil)
	}
	resp.CharacterConsistent = g.consistent(ctx, p, resp.Content)
	return resp
}

// consistent applies the local heuristics, then (when enabled) the provider
// probe. Local rejections are final; probe errors fall back to accepting.
func (g *Generator) consistent(ctx context.Context, p *persona.Personality, content string) bool {
	if len(strings.TrimSpace(content)) < MinContentLen {
		return false
	}
	lower := strings.ToLower(content)
	for _, phrase := range breakingPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	if g.crossCheck {
		ok, err := g.provider.ValidateConsistency(ctx, p, content)
		if err == nil && !ok {
			return false
		}
	}
	return true
}
