package broker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/castline/castd/internal/engage"
	"github.com/castline/castd/internal/eventbus"
	"github.com/castline/castd/internal/news"
	"github.com/castline/castd/internal/orchestrator"
	"github.com/castline/castd/internal/persona"
	"github.com/castline/castd/internal/respond"
	"github.com/castline/castd/internal/scenario"
	"github.com/castline/castd/internal/state"
	"github.com/castline/castd/internal/testutil"
	"github.com/castline/castd/internal/workflow"
)

type handlerFunc func(ctx context.Context, cmd Command) (map[string]any, error)

func (f handlerFunc) Handle(ctx context.Context, cmd Command) (map[string]any, error) {
	return f(ctx, cmd)
}

type fixture struct {
	broker *Broker
	kv     *state.KV
	bus    *eventbus.Bus
	orch   *orchestrator.Orchestrator
	now    *time.Time
}

func roster() []persona.Personality {
	return []persona.Personality{
		{
			CharacterID:         "la-abuela",
			CharacterName:       "La Abuela Rosa",
			EngagementThreshold: 0.45,
			BaseEnergyLevel:     0.6,
			TopicsOfInterest:    map[string]float64{"festival": 0.9, "comunidad": 0.8, "cocina": 0.7},
			CulturalContext:     []string{"festival"},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, cleanup := testutil.OpenTestDB(t)
	t.Cleanup(cleanup)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx := &fixture{now: &now}
	clock := func() time.Time { return *fx.now }

	fx.kv = state.NewKV(db).WithClock(clock)
	fx.bus = eventbus.NewBus(db)
	store := news.NewStore(db)
	generator := respond.NewGenerator(testutil.NewFakeAI("¡Ay, qué alegría! Nos vemos todos en la plaza."))
	runner := workflow.NewRunner(engage.NewEngine(), generator, testutil.NewFakeSocial(), fx.bus, nil)
	fx.orch = orchestrator.New(db, roster(), runner, generator, store, fx.bus, nil, orchestrator.Options{SessionID: "s1", AutoPublish: true})

	scenarios := scenario.NewRegistry(fx.bus, nil)
	scenarios.RegisterDefaults()
	fx.broker = NewBroker(fx.kv, fx.bus, NewDispatcher(fx.orch, scenarios), nil, WithClock(clock))
	return fx
}

func TestSubmitNewsInjectionCompletes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resp, err := fx.broker.Submit(ctx, Command{
		CommandID: "inject-1",
		Type:      TypeNewsInjection,
		SessionID: "s1",
		Parameters: map[string]any{
			"headline":        "El festival vuelve a la plaza",
			"topics":          []any{"festival", "comunidad"},
			"relevance_score": 0.9,
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %+v", resp)
	}
	if resp.Result["success"] != true {
		t.Fatalf("expected success result, got %+v", resp.Result)
	}
	if id, _ := resp.Result["news_id"].(string); id == "" {
		t.Fatalf("expected news_id in result, got %+v", resp.Result)
	}

	// The terminal response is queryable afterwards.
	got, err := fx.broker.Status(ctx, "inject-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.Status != StatusCompleted || got.CommandID != "inject-1" {
		t.Fatalf("unexpected persisted response: %+v", got)
	}

	events, err := fx.bus.List(ctx, eventbus.Filter{SessionID: "s1", Type: eventbus.TypeCommandCompleted})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one command_completed event, got %d", len(events))
	}
}

func TestSubmitRejectsBadAndDuplicateIDs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.broker.Submit(ctx, Command{CommandID: "-bad-", Type: TypeSystemStatus}); err == nil {
		t.Fatalf("expected invalid id rejection")
	}

	if _, err := fx.broker.Submit(ctx, Command{CommandID: "status-1", Type: TypeSystemStatus}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := fx.broker.Submit(ctx, Command{CommandID: "status-1", Type: TypeSystemStatus}); !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("expected ErrDuplicateCommand, got %v", err)
	}
}

func TestUnknownCommandTypeFailsStructured(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resp, err := fx.broker.Submit(ctx, Command{CommandID: "odd-1", Type: "time_travel"})
	if err != nil {
		t.Fatalf("unknown types must complete as failures, not submit errors: %v", err)
	}
	if resp.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %+v", resp)
	}
	if !strings.Contains(resp.Error, "unknown command type") {
		t.Fatalf("expected structured error, got %q", resp.Error)
	}
}

func TestCommandRecordsExpire(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.broker.Submit(ctx, Command{CommandID: "fleeting", Type: TypeSystemStatus, SessionID: "s1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := fx.broker.Status(ctx, "fleeting"); err != nil {
		t.Fatalf("fresh response should resolve: %v", err)
	}

	*fx.now = fx.now.Add(ResponseTTL + time.Second)
	if _, err := fx.broker.Status(ctx, "fleeting"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired records must resolve to ErrNotFound, got %v", err)
	}

	history, err := fx.broker.History(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expired responses must drop out of history, got %+v", history)
	}
}

func TestHistoryFiltersAndOrders(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	submissions := []struct {
		id      string
		session string
	}{
		{"first", "s1"},
		{"second", "s2"},
		{"third", "s1"},
	}
	for _, s := range submissions {
		if _, err := fx.broker.Submit(ctx, Command{CommandID: s.id, Type: TypeSystemStatus, SessionID: s.session}); err != nil {
			t.Fatalf("submit %s: %v", s.id, err)
		}
		*fx.now = fx.now.Add(time.Minute)
	}

	history, err := fx.broker.History(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 responses for s1, got %d", len(history))
	}
	if history[0].CommandID != "third" || history[1].CommandID != "first" {
		t.Fatalf("history must be newest first, got %+v", history)
	}

	limited, err := fx.broker.History(ctx, "", 1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(limited) != 1 || limited[0].CommandID != "third" {
		t.Fatalf("limit must keep the newest, got %+v", limited)
	}
}

func TestCancelDuringExecutionWins(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var broker *Broker
	handler := handlerFunc(func(ctx context.Context, cmd Command) (map[string]any, error) {
		// Simulate a cancel arriving while the handler runs.
		ok, err := broker.Cancel(ctx, cmd.CommandID)
		if err != nil || !ok {
			t.Fatalf("mid-flight cancel should succeed: ok=%v err=%v", ok, err)
		}
		return map[string]any{"success": true}, nil
	})
	broker = NewBroker(fx.kv, fx.bus, handler, nil, WithClock(func() time.Time { return *fx.now }))

	resp, err := broker.Submit(ctx, Command{CommandID: "race-1", Type: TypeSystemStatus})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != StatusCancelled {
		t.Fatalf("cancel must win the race, got %+v", resp)
	}
	if resp.Result != nil {
		t.Fatalf("cancelled commands must not expose results: %+v", resp.Result)
	}
}

func TestCancelTerminalAndUnknown(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.broker.Submit(ctx, Command{CommandID: "done-1", Type: TypeSystemStatus}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ok, err := fx.broker.Cancel(ctx, "done-1")
	if err != nil || ok {
		t.Fatalf("terminal command must not cancel: ok=%v err=%v", ok, err)
	}

	if _, err := fx.broker.Cancel(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScenarioTriggerCommand(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resp, err := fx.broker.Submit(ctx, Command{
		CommandID:  "run-festival",
		Type:       TypeScenarioTrigger,
		SessionID:  "s1",
		Parameters: map[string]any{"scenario_name": "festival"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != StatusCompleted || resp.Result["success"] != true {
		t.Fatalf("expected completed scenario run, got %+v", resp)
	}
	if resp.Result["scenario"] != "festival" {
		t.Fatalf("expected scenario name in result: %+v", resp.Result)
	}

	events, err := fx.bus.List(ctx, eventbus.Filter{Type: eventbus.TypeScenarioTriggered})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected scenario_triggered event, got %d", len(events))
	}
}

func TestCharacterConfigCommand(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resp, err := fx.broker.Submit(ctx, Command{
		CommandID:  "pause-1",
		Type:       TypeCharacterConfig,
		Parameters: map[string]any{"character_id": "la-abuela", "action": "pause"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %+v", resp)
	}

	status, err := fx.orch.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Characters) != 1 || !status.Characters[0].Paused {
		t.Fatalf("pause should reflect in status: %+v", status.Characters)
	}

	resp, err = fx.broker.Submit(ctx, Command{
		CommandID:  "pause-2",
		Type:       TypeCharacterConfig,
		Parameters: map[string]any{"character_id": "nobody", "action": "pause"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != StatusFailed {
		t.Fatalf("unknown character must fail the command, got %+v", resp)
	}
}

func TestAnalyticsQueryCommand(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.broker.Submit(ctx, Command{
		CommandID: "seed-news",
		Type:      TypeNewsInjection,
		SessionID: "s1",
		Parameters: map[string]any{
			"headline":        "Festival de cocina tradicional",
			"topics":          []any{"festival", "cocina"},
			"relevance_score": 1.0,
			"run_cycle":       true,
		},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp, err := fx.broker.Submit(ctx, Command{
		CommandID:  "query-1",
		Type:       TypeAnalyticsQuery,
		Parameters: map[string]any{"query_type": "reactions", "character_id": "la-abuela"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %+v", resp)
	}
	if count, _ := resp.Result["count"].(int); count < 1 {
		t.Fatalf("expected at least one reaction, got %+v", resp.Result)
	}
}

func TestStatusTransitionRules(t *testing.T) {
	valid := []struct{ from, to Status }{
		{StatusPending, StatusExecuting},
		{StatusPending, StatusCancelled},
		{StatusExecuting, StatusCompleted},
		{StatusExecuting, StatusFailed},
		{StatusExecuting, StatusCancelled},
	}
	for _, tc := range valid {
		if !canTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}
	invalid := []struct{ from, to Status }{
		{StatusCompleted, StatusExecuting},
		{StatusFailed, StatusCompleted},
		{StatusCancelled, StatusExecuting},
		{StatusPending, StatusCompleted},
	}
	for _, tc := range invalid {
		if canTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}

	err := error(&StatusTransitionError{CommandID: "x", From: StatusCompleted, To: StatusExecuting})
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("StatusTransitionError must unwrap to the sentinel")
	}
}

func TestNewsInjectionAcceptsTitleAndCategory(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resp, err := fx.broker.Submit(ctx, Command{
		CommandID: "inject-alias-1",
		Type:      TypeNewsInjection,
		SessionID: "s1",
		Parameters: map[string]any{
			"title":    "Festival anunciado",
			"content":  "La plaza mayor acoge el festival este sábado.",
			"source":   "Test",
			"category": "test",
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got status=%s error=%q", resp.Status, resp.Error)
	}
	if resp.Result["success"] != true {
		t.Fatalf("expected success result, got %+v", resp.Result)
	}
	if id, _ := resp.Result["news_id"].(string); id == "" {
		t.Fatalf("expected news_id in result, got %+v", resp.Result)
	}
}

func TestResponseCarriesExecutionTimeAndMetadata(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	handler := handlerFunc(func(ctx context.Context, cmd Command) (map[string]any, error) {
		*fx.now = fx.now.Add(2 * time.Second)
		return map[string]any{"success": true}, nil
	})
	broker := NewBroker(fx.kv, fx.bus, handler, nil, WithClock(func() time.Time { return *fx.now }))

	resp, err := broker.Submit(ctx, Command{
		CommandID: "timed-1",
		Type:      TypeSystemStatus,
		Source:    "operator",
		Priority:  "high",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.ExecutionTime != 2.0 {
		t.Fatalf("execution_time = %v, want 2.0", resp.ExecutionTime)
	}
	if resp.Metadata["command_type"] != TypeSystemStatus {
		t.Fatalf("metadata missing command_type: %+v", resp.Metadata)
	}
	if resp.Metadata["source"] != "operator" || resp.Metadata["priority"] != "high" {
		t.Fatalf("metadata missing source/priority: %+v", resp.Metadata)
	}

	// The persisted terminal response keeps the envelope.
	got, err := broker.Status(ctx, "timed-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.ExecutionTime != 2.0 || got.Metadata["command_type"] != TypeSystemStatus {
		t.Fatalf("persisted envelope dropped fields: %+v", got)
	}
}
