package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castline/castd/internal/engage"
	"github.com/castline/castd/internal/eventbus"
	"github.com/castline/castd/internal/persona"
	"github.com/castline/castd/internal/respond"
	"github.com/castline/castd/internal/state"
	"github.com/castline/castd/internal/testutil"
)

func testPersonality() *persona.Personality {
	return &persona.Personality{
		CharacterID:         "el-cronista",
		CharacterName:       "El Cronista",
		EngagementThreshold: 0.5,
		BaseEnergyLevel:     0.8,
		TopicsOfInterest:    map[string]float64{"futbol": 1.0, "derby": 0.9},
		CulturalContext:     []string{"derby"},
	}
}

type fixture struct {
	runner *Runner
	ai     *testutil.FakeAI
	social *testutil.FakeSocial
	bus    *eventbus.Bus
}

func newFixture(t *testing.T, script ...string) fixture {
	t.Helper()
	db, cleanup := testutil.OpenTestDB(t)
	t.Cleanup(cleanup)

	fakeAI := testutil.NewFakeAI(script...)
	fakeSocial := testutil.NewFakeSocial()
	bus := eventbus.NewBus(db)
	runner := NewRunner(engage.NewEngine(), respond.NewGenerator(fakeAI), fakeSocial, bus, nil)
	return fixture{runner: runner, ai: fakeAI, social: fakeSocial, bus: bus}
}

func TestExecuteFullPath(t *testing.T) {
	fx := newFixture(t, "¡GOOOL! Este derby es historia pura del barrio.")
	p := testPersonality()
	agent := state.NewAgentState(p.CharacterID, p.CharacterName)

	result := fx.runner.Execute(context.Background(), Input{
		Personality: p,
		Agent:       agent,
		Topics:      []string{"futbol", "derby"},
		Relevance:   0.9,
		NewsID:      "news-1",
		Headline:    "Derby tonight",
		Publish:     true,
		SessionID:   "s1",
	})

	if !result.Success || result.Step != StepDone || !result.Published {
		t.Fatalf("expected published run, got %+v", result)
	}
	if result.Post == nil || !result.Post.Success {
		t.Fatalf("expected post result, got %+v", result.Post)
	}
	if agent.InteractionCount != 1 {
		t.Fatalf("expected exactly one interaction recorded, got %d", agent.InteractionCount)
	}
	if len(fx.social.Posted()) != 1 {
		t.Fatalf("expected one published post, got %d", len(fx.social.Posted()))
	}

	events, err := fx.bus.List(context.Background(), eventbus.Filter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := map[string]bool{}
	for _, e := range events {
		types[e.Type] = true
	}
	for _, want := range []string{eventbus.TypeDecisionMade, eventbus.TypeResponseGenerated, eventbus.TypeResponsePublished} {
		if !types[want] {
			t.Fatalf("missing event %q in %v", want, events)
		}
	}
}

func TestExecuteSkipsBelowThreshold(t *testing.T) {
	fx := newFixture(t)
	p := testPersonality()
	p.EngagementThreshold = 0.95
	agent := state.NewAgentState(p.CharacterID, p.CharacterName)

	result := fx.runner.Execute(context.Background(), Input{
		Personality: p,
		Agent:       agent,
		Topics:      []string{"futbol"},
		Relevance:   0.5,
		Publish:     true,
	})

	if !result.Success || result.Step != StepSkipped {
		t.Fatalf("expected skipped run, got %+v", result)
	}
	if fx.ai.Calls() != 0 {
		t.Fatalf("skipped run must not call the provider")
	}
	if agent.InteractionCount != 0 {
		t.Fatalf("skipped run must not record an interaction")
	}
	if agent.EngagementRate != 0 {
		t.Fatalf("skip should fold a zero observation into the rate, got %f", agent.EngagementRate)
	}
}

func TestExecuteFallbackOnProviderError(t *testing.T) {
	fx := newFixture(t)
	fx.ai.Err = errors.New("model offline")
	p := testPersonality()
	agent := state.NewAgentState(p.CharacterID, p.CharacterName)

	result := fx.runner.Execute(context.Background(), Input{
		Personality: p,
		Agent:       agent,
		Topics:      []string{"futbol", "derby"},
		Relevance:   1,
		Publish:     true,
	})

	if result.Success || result.Step != StepFailed {
		t.Fatalf("expected failed run, got %+v", result)
	}
	if result.Response == nil || result.Response.Metadata["fallback"] != true {
		t.Fatalf("fallback response must be preserved: %+v", result.Response)
	}
	if len(fx.social.Posted()) != 0 {
		t.Fatalf("fallback must not publish")
	}
	if agent.InteractionCount != 0 {
		t.Fatalf("failed generation must not count as an interaction")
	}
}

func TestExecuteConsistencyFailureSkipsPublish(t *testing.T) {
	fx := newFixture(t, "As an AI, I think this derby will be interesting.")
	p := testPersonality()
	agent := state.NewAgentState(p.CharacterID, p.CharacterName)

	result := fx.runner.Execute(context.Background(), Input{
		Personality: p,
		Agent:       agent,
		Topics:      []string{"derby"},
		Relevance:   1,
		Publish:     true,
	})

	if !result.Success || result.Step != StepDone || result.Published {
		t.Fatalf("expected unpublished completion, got %+v", result)
	}
	if len(fx.social.Posted()) != 0 {
		t.Fatalf("inconsistent content must not be published")
	}
	if result.Response == nil || result.Response.CharacterConsistent {
		t.Fatalf("response should be flagged inconsistent: %+v", result.Response)
	}
}

func TestExecutePublishFailurePreservesGeneration(t *testing.T) {
	fx := newFixture(t, "¡Qué partidazo nos espera esta noche en el barrio!")
	fx.social.FailWith = "platform unavailable"
	p := testPersonality()
	agent := state.NewAgentState(p.CharacterID, p.CharacterName)

	result := fx.runner.Execute(context.Background(), Input{
		Personality: p,
		Agent:       agent,
		Topics:      []string{"futbol"},
		Relevance:   1,
		Publish:     true,
	})

	if result.Success || result.Step != StepFailed {
		t.Fatalf("expected failed run, got %+v", result)
	}
	if result.Response == nil || result.Response.Content == "" {
		t.Fatalf("generated content must survive a publish failure")
	}
	if result.Post == nil || result.Post.Success {
		t.Fatalf("post result should report the failure: %+v", result.Post)
	}
}

func TestExecuteThreadReplyBudget(t *testing.T) {
	fx := newFixture(t, "Primera respuesta del cronista sobre este hilo.")
	p := testPersonality()
	agent := state.NewAgentState(p.CharacterID, p.CharacterName)
	thread := state.NewThreadState("thread-1", "derby kickoff", 1)

	in := Input{
		Personality: p,
		Agent:       agent,
		Topics:      []string{"derby"},
		Relevance:   1,
		Thread:      thread,
		Publish:     true,
	}

	first := fx.runner.Execute(context.Background(), in)
	if !first.Success || !first.Published {
		t.Fatalf("first reply should publish: %+v", first)
	}
	if thread.ReplyCount(p.CharacterID) != 1 {
		t.Fatalf("expected reply recorded on thread")
	}

	second := fx.runner.Execute(context.Background(), in)
	if second.Step != StepSkipped {
		t.Fatalf("cap-exhausted thread must skip at decision time, got %+v", second)
	}
	if second.Decision.Reasoning != "thread reply cap reached" {
		t.Fatalf("unexpected reasoning: %q", second.Decision.Reasoning)
	}
}

func TestExecuteCooldownShortCircuit(t *testing.T) {
	fx := newFixture(t)
	p := testPersonality()
	agent := state.NewAgentState(p.CharacterID, p.CharacterName)
	until := time.Now().UTC().Add(time.Hour)
	agent.CooldownUntil = &until

	result := fx.runner.Execute(context.Background(), Input{
		Personality: p,
		Agent:       agent,
		Topics:      []string{"futbol"},
		Relevance:   1,
	})
	if result.Step != StepSkipped || result.Decision.Reasoning != "on cooldown" {
		t.Fatalf("cooldown must skip without scoring, got %+v", result)
	}
	if fx.ai.Calls() != 0 {
		t.Fatalf("cooldown skip must not call the provider")
	}
}
