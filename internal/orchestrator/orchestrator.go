// Package orchestrator coordinates the character ensemble: it fans news out
// to every active character, runs threaded conversations under reply caps,
// and owns the shared session aggregate. One character failing never fails a
// cycle; failures surface as system messages on the cycle result.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castd/internal/ai"
	"github.com/castline/castd/internal/eventbus"
	"github.com/castline/castd/internal/idgen"
	"github.com/castline/castd/internal/news"
	"github.com/castline/castd/internal/persona"
	"github.com/castline/castd/internal/respond"
	"github.com/castline/castd/internal/state"
	"github.com/castline/castd/internal/workflow"
)

// maxCycleItems bounds how many pending news items one cycle consumes.
const maxCycleItems = 10

type Orchestrator struct {
	db        *sql.DB
	personas  map[string]*persona.Personality
	order     []string
	orch      *state.Orchestration
	newsStore *news.Store
	runner    *workflow.Runner
	generator *respond.Generator
	bus       *eventbus.Bus
	log       *zap.Logger

	sessionID        string
	autoPublish      bool
	maxThreadReplies int

	mu       sync.Mutex
	messages []string // recent system messages, bounded
	calls    callWindow
	nowFn    func() time.Time
}

// callWindow counts provider calls in the current hour.
type callWindow struct {
	hour  time.Time
	count int
}

type Options struct {
	SessionID        string
	AutoPublish      bool
	MaxThreadReplies int
}

func New(db *sql.DB, roster []persona.Personality, runner *workflow.Runner, generator *respond.Generator, newsStore *news.Store, bus *eventbus.Bus, log *zap.Logger, opts Options) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SessionID == "" {
		opts.SessionID = "default"
	}
	if opts.MaxThreadReplies <= 0 {
		opts.MaxThreadReplies = state.DefaultMaxThreadReplies
	}

	o := &Orchestrator{
		db:               db,
		personas:         map[string]*persona.Personality{},
		orch:             state.NewOrchestration(),
		newsStore:        newsStore,
		runner:           runner,
		generator:        generator,
		bus:              bus,
		log:              log,
		sessionID:        opts.SessionID,
		autoPublish:      opts.AutoPublish,
		maxThreadReplies: opts.MaxThreadReplies,
		nowFn:            func() time.Time { return time.Now().UTC() },
	}
	for i := range roster {
		p := roster[i]
		o.personas[p.CharacterID] = &p
		o.order = append(o.order, p.CharacterID)
		o.orch.AddCharacter(p.CharacterID, p.CharacterName)
	}
	return o
}

// WithClock overrides the orchestrator clock for tests.
func (o *Orchestrator) WithClock(nowFn func() time.Time) *Orchestrator {
	if nowFn != nil {
		o.nowFn = nowFn
	}
	return o
}

// CycleResult summarizes one orchestration cycle.
type CycleResult struct {
	ItemsProcessed int      `json:"items_processed"`
	Engaged        int      `json:"engaged"`
	Skipped        int      `json:"skipped"`
	Failed         int      `json:"failed"`
	Published      int      `json:"published"`
	Messages       []string `json:"system_messages,omitempty"`
	Duration       string   `json:"duration"`
}

// RunCycle consumes pending news and fans each item out to every active
// character. Characters run concurrently; within a character the items run in
// order, so each agent state has a single writer for the whole cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleResult, error) {
	started := o.nowFn()
	items, err := o.newsStore.ListPending(ctx, maxCycleItems)
	if err != nil {
		return CycleResult{}, fmt.Errorf("load pending news: %w", err)
	}

	o.emit(ctx, eventbus.TypeCycleStarted, map[string]any{"pending_items": len(items)})

	characters := o.orch.ActiveCharacters()
	type outcome struct {
		characterID string
		item        news.Item
		result      workflow.Result
	}

	var wg sync.WaitGroup
	var outMu sync.Mutex
	var outcomes []outcome

	for _, characterID := range characters {
		p := o.personas[characterID]
		agent, ok := o.orch.AgentFor(characterID)
		if p == nil || !ok {
			continue
		}
		wg.Add(1)
		go func(p *persona.Personality, agent *state.AgentState) {
			defer wg.Done()
			for _, item := range items {
				result := o.runner.Execute(ctx, workflow.Input{
					Personality: p,
					Agent:       agent,
					Topics:      item.Topics,
					Relevance:   item.RelevanceScore,
					NewsID:      item.ID,
					Headline:    item.Headline,
					Body:        item.Content,
					ToneLabel:   primaryTopic(item),
					Publish:     o.autoPublish,
					SessionID:   o.sessionID,
				})
				outMu.Lock()
				outcomes = append(outcomes, outcome{characterID: p.CharacterID, item: item, result: result})
				outMu.Unlock()
			}
		}(p, agent)
	}
	wg.Wait()

	cycle := CycleResult{ItemsProcessed: len(items)}
	for _, oc := range outcomes {
		switch {
		case oc.result.Step == workflow.StepSkipped:
			cycle.Skipped++
		case oc.result.Step == workflow.StepFailed:
			cycle.Failed++
			msg := fmt.Sprintf("%s failed on %q: %v", oc.characterID, oc.item.Headline, oc.result.Err)
			cycle.Messages = append(cycle.Messages, msg)
			o.addMessage(msg)
		default:
			cycle.Engaged++
			if oc.result.Published {
				cycle.Published++
			}
		}
		if oc.result.Response != nil {
			o.countCall()
		}
		if oc.result.Success && oc.result.Response != nil {
			reaction := state.Reaction{
				CharacterID: oc.characterID,
				NewsID:      oc.item.ID,
				Content:     oc.result.Response.Content,
				Confidence:  oc.result.Decision.Confidence,
				Consistent:  oc.result.Response.CharacterConsistent,
				GeneratedAt: o.nowFn(),
				Metadata:    oc.result.Response.Metadata,
			}
			o.orch.AppendReaction(reaction)
		}
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if err := o.newsStore.MarkProcessed(ctx, ids); err != nil {
		return cycle, fmt.Errorf("mark news processed: %w", err)
	}

	cycle.Duration = o.nowFn().Sub(started).String()
	o.emit(ctx, eventbus.TypeCycleCompleted, map[string]any{
		"items_processed": cycle.ItemsProcessed,
		"engaged":         cycle.Engaged,
		"skipped":         cycle.Skipped,
		"failed":          cycle.Failed,
		"published":       cycle.Published,
	})
	return cycle, nil
}

// InjectNews validates and enqueues a news item for the next cycle.
func (o *Orchestrator) InjectNews(ctx context.Context, item news.Item) (news.Item, error) {
	stored, err := o.newsStore.Add(ctx, item)
	if err != nil {
		return news.Item{}, err
	}
	o.emit(ctx, eventbus.TypeNewsInjected, map[string]any{
		"news_id":  stored.ID,
		"headline": stored.Headline,
		"topics":   stored.Topics,
	})
	return stored, nil
}

// StartThread opens a tracked conversation thread around the given content
// and persists its identity.
func (o *Orchestrator) StartThread(ctx context.Context, prefix, originalContent string) (*state.ThreadState, error) {
	threadID := idgen.ThreadID(o.db, prefix)
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO threads (id, original_content, created_at)
		VALUES (?, ?, ?)
	`, threadID, originalContent, o.nowFn().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	thread := state.NewThreadState(threadID, originalContent, o.maxThreadReplies)
	return o.orch.TrackThread(thread), nil
}

// RunThread lets each active character, in roster order, consider replying to
// the thread once per round. Characters run sequentially here: the thread's
// reply ledger has a single writer.
func (o *Orchestrator) RunThread(ctx context.Context, threadID string, topics []string, rounds int) (CycleResult, error) {
	thread, ok := o.orch.Thread(threadID)
	if !ok {
		return CycleResult{}, fmt.Errorf("thread %s: not tracked", threadID)
	}
	if rounds <= 0 {
		rounds = 1
	}

	var cycle CycleResult
	for round := 0; round < rounds; round++ {
		for _, characterID := range o.orch.ActiveCharacters() {
			p := o.personas[characterID]
			agent, ok := o.orch.AgentFor(characterID)
			if p == nil || !ok {
				continue
			}
			result := o.runner.Execute(ctx, workflow.Input{
				Personality: p,
				Agent:       agent,
				Topics:      topics,
				Relevance:   1,
				Situation:   threadSituation(thread),
				Thread:      thread,
				Publish:     o.autoPublish,
				SessionID:   o.sessionID,
			})
			switch {
			case result.Step == workflow.StepSkipped:
				cycle.Skipped++
			case result.Step == workflow.StepFailed:
				cycle.Failed++
				msg := fmt.Sprintf("%s failed on thread %s: %v", characterID, threadID, result.Err)
				cycle.Messages = append(cycle.Messages, msg)
				o.addMessage(msg)
			default:
				cycle.Engaged++
				if result.Published {
					cycle.Published++
				}
			}
			if result.Response != nil {
				o.countCall()
			}
			if result.Success && result.Response != nil {
				o.orch.AppendReaction(state.Reaction{
					CharacterID: characterID,
					ThreadID:    threadID,
					Content:     result.Response.Content,
					Confidence:  result.Decision.Confidence,
					Consistent:  result.Response.CharacterConsistent,
					GeneratedAt: o.nowFn(),
					Metadata:    result.Response.Metadata,
				})
			}
		}
	}
	return cycle, nil
}

// Chat generates a direct in-character reply to a user message. Chat bypasses
// the engagement decision: an addressed character always answers.
func (o *Orchestrator) Chat(ctx context.Context, characterID, message string, history []ai.Message) (ai.Response, error) {
	p, ok := o.personas[characterID]
	if !ok {
		return ai.Response{}, fmt.Errorf("character %s: %w", characterID, state.ErrUnknownCharacter)
	}
	agent, ok := o.orch.AgentFor(characterID)
	if !ok {
		return ai.Response{}, fmt.Errorf("character %s: %w", characterID, state.ErrUnknownCharacter)
	}

	resp := o.generator.Generate(ctx, p, message, "", history)
	o.countCall()
	if resp.Metadata["fallback"] != true {
		agent.RecordInteraction(o.nowFn())
	}
	return resp, nil
}

// PauseCharacter puts a character on an indefinite cooldown. Pausing twice is
// a no-op.
func (o *Orchestrator) PauseCharacter(ctx context.Context, characterID string) error {
	agent, ok := o.orch.AgentFor(characterID)
	if !ok {
		return fmt.Errorf("character %s: %w", characterID, state.ErrUnknownCharacter)
	}
	agent.Pause(o.nowFn())
	o.emit(ctx, eventbus.TypeCharacterPaused, map[string]any{"character_id": characterID})
	return nil
}

// ResumeCharacter clears a character's cooldown. Resuming an active character
// is a no-op.
func (o *Orchestrator) ResumeCharacter(ctx context.Context, characterID string) error {
	agent, ok := o.orch.AgentFor(characterID)
	if !ok {
		return fmt.Errorf("character %s: %w", characterID, state.ErrUnknownCharacter)
	}
	agent.Resume()
	o.emit(ctx, eventbus.TypeCharacterResumed, map[string]any{"character_id": characterID})
	return nil
}

// Reactions returns recorded reactions newest first, optionally filtered by
// character.
func (o *Orchestrator) Reactions(characterID string, limit int) []state.Reaction {
	return o.orch.Reactions(characterID, limit)
}

// Personality returns the roster entry for a character.
func (o *Orchestrator) Personality(characterID string) (*persona.Personality, bool) {
	p, ok := o.personas[characterID]
	return p, ok
}

// Shutdown deactivates the session aggregate.
func (o *Orchestrator) Shutdown() {
	o.orch.Deactivate()
}

func (o *Orchestrator) addMessage(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	if len(o.messages) > 50 {
		o.messages = o.messages[len(o.messages)-50:]
	}
}

// countCall folds one provider call into the hourly window.
func (o *Orchestrator) countCall() {
	o.mu.Lock()
	defer o.mu.Unlock()
	hour := o.nowFn().Truncate(time.Hour)
	if !o.calls.hour.Equal(hour) {
		o.calls = callWindow{hour: hour}
	}
	o.calls.count++
}

func (o *Orchestrator) callsThisHour() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.calls.hour.Equal(o.nowFn().Truncate(time.Hour)) {
		return 0
	}
	return o.calls.count
}

func (o *Orchestrator) emit(ctx context.Context, eventType string, data map[string]any) {
	if o.bus == nil {
		return
	}
	if _, err := o.bus.Publish(ctx, eventbus.Event{
		Type:      eventType,
		SessionID: o.sessionID,
		Source:    "orchestrator",
		Data:      data,
	}); err != nil {
		o.log.Warn("event publish failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

// primaryTopic picks the item's first topic as the tone-preference lookup
// label.
func primaryTopic(item news.Item) string {
	if len(item.Topics) == 0 {
		return ""
	}
	return item.Topics[0]
}

func threadSituation(t *state.ThreadState) string {
	return fmt.Sprintf("Join the ongoing conversation with one short reply in your own voice.\nConversation opener: %s", t.OriginalContent)
}
