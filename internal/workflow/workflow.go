// Package workflow runs one character through a single engagement: decide,
// generate, validate, publish. Each run owns its character's agent state for
// the duration of the run; shared aggregates are touched by the orchestrator
// only.
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castd/internal/ai"
	"github.com/castline/castd/internal/engage"
	"github.com/castline/castd/internal/eventbus"
	"github.com/castline/castd/internal/persona"
	"github.com/castline/castd/internal/respond"
	"github.com/castline/castd/internal/social"
	"github.com/castline/castd/internal/state"
)

// Step names the workflow states. A run moves deciding -> skipped, or
// deciding -> generating -> validating -> publishing -> done | failed.
type Step string

const (
	StepDeciding   Step = "deciding"
	StepSkipped    Step = "skipped"
	StepGenerating Step = "generating"
	StepValidating Step = "validating"
	StepPublishing Step = "publishing"
	StepDone       Step = "done"
	StepFailed     Step = "failed"
)

// Input is everything one run needs. Agent is the character's live state
// record; the run is its sole writer while executing.
type Input struct {
	Personality *persona.Personality
	Agent       *state.AgentState

	// Candidate under consideration.
	Topics    []string
	Relevance float64
	NewsID    string
	Headline  string
	Body      string
	ToneLabel string

	// Situation overrides the news-derived prompt for chat-style runs.
	Situation   string
	TargetTopic string
	History     []ai.Message

	// Thread, when set, gates on and consumes the per-thread reply budget.
	Thread *state.ThreadState

	Publish   bool
	SessionID string
}

// Result reports how far the run got. Response survives even when publishing
// fails, so callers can inspect what was generated.
type Result struct {
	Success       bool
	Step          Step
	Decision      engage.Decision
	Response      *ai.Response
	Post          *social.PostResult
	Published     bool
	ExecutionTime time.Duration
	Err           error
}

// Runner executes engagement workflows against a fixed set of collaborators.
type Runner struct {
	engine    *engage.Engine
	generator *respond.Generator
	social    social.Provider
	bus       *eventbus.Bus
	log       *zap.Logger
	nowFn     func() time.Time
}

func NewRunner(engine *engage.Engine, generator *respond.Generator, socialProvider social.Provider, bus *eventbus.Bus, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		engine:    engine,
		generator: generator,
		social:    socialProvider,
		bus:       bus,
		log:       log,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the runner clock for tests.
func (r *Runner) WithClock(nowFn func() time.Time) *Runner {
	if nowFn != nil {
		r.nowFn = nowFn
	}
	return r
}

// Execute runs one character against one candidate. It never panics a cycle:
// every failure mode lands in the Result.
func (r *Runner) Execute(ctx context.Context, in Input) Result {
	started := r.nowFn()
	result := Result{Step: StepDeciding}

	candidate := engage.Candidate{Topics: in.Topics, Relevance: in.Relevance, Thread: in.Thread}
	result.Decision = r.engine.Decide(in.Personality, in.Agent, candidate)
	r.emit(ctx, in, eventbus.TypeDecisionMade, map[string]any{
		"character_id": in.Personality.CharacterID,
		"news_id":      in.NewsID,
		"engage":       result.Decision.Engage,
		"confidence":   result.Decision.Confidence,
		"reasoning":    result.Decision.Reasoning,
	})

	if !result.Decision.Engage {
		in.Agent.RecordEngagement(false)
		result.Step = StepSkipped
		result.Success = true
		result.ExecutionTime = r.nowFn().Sub(started)
		return result
	}
	in.Agent.RecordEngagement(true)

	result.Step = StepGenerating
	resp := r.generate(ctx, in)
	result.Response = &resp
	r.emit(ctx, in, eventbus.TypeResponseGenerated, map[string]any{
		"character_id": in.Personality.CharacterID,
		"news_id":      in.NewsID,
		"confidence":   resp.ConfidenceScore,
		"consistent":   resp.CharacterConsistent,
		"fallback":     resp.Metadata["fallback"] == true,
	})

	if resp.Metadata["fallback"] == true {
		result.Step = StepFailed
		result.Err = fmt.Errorf("generation fell back: %v", resp.Metadata["reason"])
		result.ExecutionTime = r.nowFn().Sub(started)
		return result
	}
	in.Agent.RecordInteraction(r.nowFn())

	result.Step = StepValidating
	if !resp.CharacterConsistent {
		// The text exists but broke character: the run completes without
		// publishing and leaves the decision to the caller.
		r.log.Warn("response failed consistency check",
			zap.String("character_id", in.Personality.CharacterID),
			zap.String("news_id", in.NewsID))
		result.Step = StepDone
		result.Success = true
		result.ExecutionTime = r.nowFn().Sub(started)
		return result
	}

	if in.Publish {
		result.Step = StepPublishing
		post, err := r.publish(ctx, in, resp.Content)
		result.Post = &post
		if err != nil || !post.Success {
			if err == nil {
				err = fmt.Errorf("publish rejected: %s", post.Error)
			}
			result.Step = StepFailed
			result.Err = err
			result.ExecutionTime = r.nowFn().Sub(started)
			return result
		}
		result.Published = true
		r.emit(ctx, in, eventbus.TypeResponsePublished, map[string]any{
			"character_id": in.Personality.CharacterID,
			"post_id":      post.ID,
			"news_id":      in.NewsID,
		})
	}

	if in.Thread != nil {
		reply := state.Reply{Content: resp.Content, CreatedAt: r.nowFn()}
		if result.Post != nil {
			reply.PostID = result.Post.ID
		}
		if err := in.Thread.AddReply(in.Personality.CharacterID, reply); err != nil {
			// The engine gated on the cap at decision time; losing the race
			// here just means the reply is not counted again.
			r.log.Warn("reply not recorded", zap.Error(err),
				zap.String("thread_id", in.Thread.ThreadID))
		}
	}

	result.Step = StepDone
	result.Success = true
	result.ExecutionTime = r.nowFn().Sub(started)
	return result
}

func (r *Runner) generate(ctx context.Context, in Input) ai.Response {
	if in.Situation != "" {
		return r.generator.Generate(ctx, in.Personality, in.Situation, in.TargetTopic, in.History)
	}
	return r.generator.GenerateNewsReaction(ctx, in.Personality, in.Headline, in.Body, in.ToneLabel, in.History)
}

func (r *Runner) publish(ctx context.Context, in Input, content string) (social.PostResult, error) {
	post := social.Post{
		Content:       content,
		CharacterID:   in.Personality.CharacterID,
		CharacterName: in.Personality.CharacterName,
	}
	if in.Thread != nil {
		post.ThreadID = in.Thread.ThreadID
	}
	return r.social.Post(ctx, post)
}

// emit publishes a lifecycle event best-effort: journal failures are logged,
// never fatal to the run.
func (r *Runner) emit(ctx context.Context, in Input, eventType string, data map[string]any) {
	if r.bus == nil {
		return
	}
	if _, err := r.bus.Publish(ctx, eventbus.Event{
		Type:      eventType,
		SessionID: in.SessionID,
		Source:    "workflow",
		Data:      data,
	}); err != nil {
		r.log.Warn("event publish failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
