package state

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrReplyCapReached is returned by ThreadState.AddReply once a character has
// used all of its replies on a thread.
var ErrReplyCapReached = errors.New("thread reply cap reached")

// ErrUnknownCharacter is returned when an operation names a character that is
// not in the active set.
var ErrUnknownCharacter = errors.New("unknown character")

// DefaultMaxThreadReplies caps how many times one character may reply on a
// single conversation thread.
const DefaultMaxThreadReplies = 3

// pauseHorizon is the effectively-indefinite cooldown applied by pause.
const pauseHorizon = 100 * 365 * 24 * time.Hour

// AgentState is the mutable per-character runtime record. It is owned by the
// orchestrator; each character's workflow run is the sole writer of its own
// entry for the duration of the run.
type AgentState struct {
	CharacterID      string     `json:"character_id"`
	CharacterName    string     `json:"character_name"`
	LastInteraction  time.Time  `json:"last_interaction_time"`
	InteractionCount int        `json:"interaction_count"`
	CooldownUntil    *time.Time `json:"cooldown_until,omitempty"`
	EngagementRate   float64    `json:"engagement_rate"`

	// interactionDay tracks the UTC day the counter belongs to; the counter
	// resets lazily when a write lands on a new day.
	interactionDay string
}

func NewAgentState(characterID, characterName string) *AgentState {
	return &AgentState{CharacterID: characterID, CharacterName: characterName}
}

// OnCooldown reports whether the character is ineligible to engage at now.
func (a *AgentState) OnCooldown(now time.Time) bool {
	return a.CooldownUntil != nil && now.Before(*a.CooldownUntil)
}

// Pause sets an effectively-indefinite cooldown. Pausing an already-paused
// character is a no-op.
func (a *AgentState) Pause(now time.Time) {
	if a.OnCooldown(now.Add(pauseHorizon / 2)) {
		return
	}
	until := now.Add(pauseHorizon)
	a.CooldownUntil = &until
}

// Resume clears any cooldown. Resuming an active character is a no-op.
func (a *AgentState) Resume() {
	a.CooldownUntil = nil
}

// RecordInteraction bumps the interaction counter and timestamp. The counter
// resets on UTC day boundaries.
func (a *AgentState) RecordInteraction(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if a.interactionDay != day {
		a.interactionDay = day
		a.InteractionCount = 0
	}
	a.InteractionCount++
	a.LastInteraction = now.UTC()
}

// RecordEngagement folds one engage/skip outcome into the rolling engagement
// rate (exponential moving average, newest observation weighted 0.2).
func (a *AgentState) RecordEngagement(engaged bool) {
	observation := 0.0
	if engaged {
		observation = 1.0
	}
	a.EngagementRate = a.EngagementRate*0.8 + observation*0.2
}

// Reply is one accepted character reply on a thread.
type Reply struct {
	Content   string    `json:"content"`
	PostID    string    `json:"post_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadState tracks per-character reply usage on one conversation thread.
type ThreadState struct {
	ThreadID        string             `json:"thread_id"`
	OriginalContent string             `json:"original_content"`
	Replies         map[string][]Reply `json:"character_replies"`
	MaxReplies      int                `json:"max_replies"`
	CreatedAt       time.Time          `json:"created_at"`
}

func NewThreadState(threadID, originalContent string, maxReplies int) *ThreadState {
	if maxReplies <= 0 {
		maxReplies = DefaultMaxThreadReplies
	}
	return &ThreadState{
		ThreadID:        threadID,
		OriginalContent: originalContent,
		Replies:         map[string][]Reply{},
		MaxReplies:      maxReplies,
		CreatedAt:       time.Now().UTC(),
	}
}

// CanReply reports whether the character still has reply budget on this
// thread. It must be checked before AddReply.
func (t *ThreadState) CanReply(characterID string) bool {
	return len(t.Replies[characterID]) < t.MaxReplies
}

// AddReply records a reply for the character, rejecting it once the cap is
// reached.
func (t *ThreadState) AddReply(characterID string, reply Reply) error {
	if !t.CanReply(characterID) {
		return ErrReplyCapReached
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	t.Replies[characterID] = append(t.Replies[characterID], reply)
	return nil
}

// ReplyCount returns how many replies the character has used on this thread.
func (t *ThreadState) ReplyCount(characterID string) int {
	return len(t.Replies[characterID])
}

// Reaction is an immutable record of one completed engagement.
type Reaction struct {
	CharacterID string         `json:"character_id"`
	NewsID      string         `json:"news_id,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
	Content     string         `json:"content"`
	Confidence  float64        `json:"confidence"`
	Consistent  bool           `json:"consistent"`
	GeneratedAt time.Time      `json:"generated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Orchestration is the aggregate root bundling all active characters. It is
// exclusively owned by the orchestrator; other components read it through
// accessor methods or mutate it via orchestrator operations only.
type Orchestration struct {
	mu sync.RWMutex

	active        bool
	characters    []string // insertion order
	states        map[string]*AgentState
	conversations map[string]*ThreadState
	reactions     []Reaction // append-only
}

func NewOrchestration() *Orchestration {
	return &Orchestration{
		active:        true,
		states:        map[string]*AgentState{},
		conversations: map[string]*ThreadState{},
	}
}

// AddCharacter registers a character in the active set. Re-adding an existing
// character keeps its state.
func (o *Orchestration) AddCharacter(characterID, characterName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.states[characterID]; ok {
		return
	}
	o.states[characterID] = NewAgentState(characterID, characterName)
	o.characters = append(o.characters, characterID)
}

// RemoveCharacter drops a character from the active set and destroys its
// state.
func (o *Orchestration) RemoveCharacter(characterID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.states, characterID)
	for i, id := range o.characters {
		if id == characterID {
			o.characters = append(o.characters[:i], o.characters[i+1:]...)
			break
		}
	}
}

// ActiveCharacters returns the active character IDs in insertion order.
func (o *Orchestration) ActiveCharacters() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string{}, o.characters...)
}

// AgentFor returns the state record for a character.
func (o *Orchestration) AgentFor(characterID string) (*AgentState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.states[characterID]
	return st, ok
}

// Thread returns the engagement state for a thread, if tracked.
func (o *Orchestration) Thread(threadID string) (*ThreadState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.conversations[threadID]
	return t, ok
}

// TrackThread registers a new conversation thread. Tracking an existing
// thread returns the already-tracked state.
func (o *Orchestration) TrackThread(t *ThreadState) *ThreadState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.conversations[t.ThreadID]; ok {
		return existing
	}
	o.conversations[t.ThreadID] = t
	return t
}

// ConversationCount returns how many threads are currently tracked.
func (o *Orchestration) ConversationCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.conversations)
}

// AppendReaction adds one completed engagement to the append-only log.
// Appends from concurrent workflow runs are serialized here.
func (o *Orchestration) AppendReaction(r Reaction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reactions = append(o.reactions, r)
}

// Reactions returns reactions newest-first, optionally filtered by character,
// truncated to limit.
func (o *Orchestration) Reactions(characterID string, limit int) []Reaction {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Reaction, 0, len(o.reactions))
	for _, r := range o.reactions {
		if characterID != "" && r.CharacterID != characterID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GeneratedAt.After(out[j].GeneratedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Active reports whether orchestration is running.
func (o *Orchestration) Active() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active
}

// Deactivate marks the session as shut down.
func (o *Orchestration) Deactivate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = false
}

// LastActivity returns the most recent interaction time across all
// characters.
func (o *Orchestration) LastActivity() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var last time.Time
	for _, st := range o.states {
		if st.LastInteraction.After(last) {
			last = st.LastInteraction
		}
	}
	return last
}
