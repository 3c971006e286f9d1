package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/castline/castd/internal/persona"
)

// Gemini implements Provider on top of Google's Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) GenerateCharacterResponse(ctx context.Context, p *persona.Personality, prompt Prompt) (Response, error) {
	var contents []*genai.Content
	for _, msg := range prompt.History {
		contents = append(contents, genai.NewContentFromText(msg.Content, historyRole(msg.Role)))
	}

	var user strings.Builder
	user.WriteString(prompt.Context)
	if prompt.TargetTopic != "" {
		fmt.Fprintf(&user, "\n\nFocus your reaction on: %s", prompt.TargetTopic)
	}
	contents = append(contents, genai.NewContentFromText(user.String(), genai.RoleUser))

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.9),
	})
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	return Response{
		Content:             text,
		ConfidenceScore:     confidenceFor(text),
		CharacterConsistent: true, // callers re-check; see respond.Generator
		Metadata: map[string]any{
			"provider": "gemini",
			"model":    g.model,
		},
	}, nil
}

func (g *Gemini) GenerateNewsReaction(ctx context.Context, p *persona.Personality, headline, content, emotionalContext string) (Response, error) {
	prompt := Prompt{
		System: p.SystemPrompt(),
		Context: fmt.Sprintf(
			"React to this news in one short social post, in your own voice.\nHeadline: %s\n%s\nEmotional register: %s",
			headline, content, emotionalContext,
		),
	}
	return g.GenerateCharacterResponse(ctx, p, prompt)
}

func (g *Gemini) ValidateConsistency(ctx context.Context, p *persona.Personality, content string) (bool, error) {
	question := fmt.Sprintf(
		"Character description:\n%s\n\nText:\n%s\n\nDoes the text stay in character and avoid identifying as an AI? Answer with exactly YES or NO.",
		p.SystemPrompt(), content,
	)
	result, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(question, genai.RoleUser)},
		&genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)},
	)
	if err != nil {
		return false, fmt.Errorf("gemini validate: %w", err)
	}
	answer := strings.ToUpper(strings.TrimSpace(result.Text()))
	return strings.HasPrefix(answer, "YES"), nil
}

func (g *Gemini) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := g.client.Models.CountTokens(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}, nil)
	return err == nil
}

// historyRole maps a conversation message role onto the wire role. Messages
// authored by the character replay as model turns; everything else is user
// input.
func historyRole(role string) genai.Role {
	if role == "character" {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// confidenceFor maps output length to a crude confidence signal: empty text
// scores 0, very short text is penalized.
func confidenceFor(text string) float64 {
	switch n := len(text); {
	case n == 0:
		return 0.0
	case n < 20:
		return 0.5
	default:
		return 0.9
	}
}
