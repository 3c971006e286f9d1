package testutil

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/castline/castd/internal/ai"
	"github.com/castline/castd/internal/persona"
	"github.com/castline/castd/internal/social"
)

// FakeAI is a scripted model provider. Responses are served in order; when
// the script runs out, the last entry repeats. Set Err to make every call
// fail instead.
type FakeAI struct {
	mu        sync.Mutex
	Script    []string
	Err       error
	Healthy   bool
	Consist   bool
	callCount int
	Prompts   []ai.Prompt
}

func NewFakeAI(script ...string) *FakeAI {
	if len(script) == 0 {
		script = []string{"¡Qué emoción, vecinos! Esto hay que celebrarlo."}
	}
	return &FakeAI{Script: script, Healthy: true, Consist: true}
}

func (f *FakeAI) GenerateCharacterResponse(_ context.Context, _ *persona.Personality, prompt ai.Prompt) (ai.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return ai.Response{}, f.Err
	}
	idx := f.callCount
	if idx >= len(f.Script) {
		idx = len(f.Script) - 1
	}
	f.callCount++
	text := f.Script[idx]
	return ai.Response{
		Content:             text,
		ConfidenceScore:     0.9,
		CharacterConsistent: true,
		Metadata:            map[string]any{"provider": "fake"},
	}, nil
}

func (f *FakeAI) GenerateNewsReaction(ctx context.Context, p *persona.Personality, headline, content, emotionalContext string) (ai.Response, error) {
	situation := headline + "\n" + content + "\nEmotional register: " + emotionalContext
	return f.GenerateCharacterResponse(ctx, p, ai.Prompt{System: p.SystemPrompt(), Context: situation})
}

func (f *FakeAI) ValidateConsistency(_ context.Context, _ *persona.Personality, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	return f.Consist, nil
}

func (f *FakeAI) HealthCheck(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Healthy
}

// Calls reports how many generation calls the fake has served.
func (f *FakeAI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// FakeSocial is an in-memory social provider. Set FailWith to make Post
// report a failure result.
type FakeSocial struct {
	mu       sync.Mutex
	Posts    []social.Post
	FailWith string
	Healthy  bool
	nextID   int
}

func NewFakeSocial() *FakeSocial {
	return &FakeSocial{Healthy: true}
}

func (f *FakeSocial) Post(_ context.Context, post social.Post) (social.PostResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v := social.ValidateContent(post.Content); !v.Valid {
		return social.PostResult{Success: false, Error: "invalid content"}, nil
	}
	if f.FailWith != "" {
		return social.PostResult{Success: false, Error: f.FailWith}, nil
	}
	f.nextID++
	f.Posts = append(f.Posts, post)
	return social.PostResult{Success: true, ID: postID(f.nextID)}, nil
}

func (f *FakeSocial) Search(_ context.Context, query social.SearchQuery) ([]social.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []social.SearchResult
	for i, p := range f.Posts {
		if query.Query == "" || strings.Contains(p.Content, query.Query) {
			out = append(out, social.SearchResult{
				ID:          postID(i + 1),
				CharacterID: p.CharacterID,
				Content:     p.Content,
				ThreadID:    p.ThreadID,
			})
		}
	}
	return out, nil
}

func (f *FakeSocial) ValidateContent(content string) social.Validation {
	return social.ValidateContent(content)
}

func (f *FakeSocial) HealthCheck(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Healthy
}

// Posted returns a copy of everything published so far.
func (f *FakeSocial) Posted() []social.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]social.Post, len(f.Posts))
	copy(out, f.Posts)
	return out
}

func postID(n int) string {
	return "post-" + strconv.Itoa(n)
}
