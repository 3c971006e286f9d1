package orchestrator

import (
	"context"
	"time"
)

// Status is a pure read-model projection of the session: building it mutates
// nothing.
type Status struct {
	Active              bool            `json:"active"`
	SessionID           string          `json:"session_id"`
	ActiveCharacters    []string        `json:"active_characters"`
	PendingNews         int             `json:"pending_news"`
	ActiveConversations int             `json:"active_conversations"`
	APICallsThisHour    int             `json:"api_calls_this_hour"`
	LastActivity        *time.Time      `json:"last_activity,omitempty"`
	HealthScore         float64         `json:"health_score"`
	Characters          []CharacterInfo `json:"characters"`
	SystemMessages      []string        `json:"system_messages,omitempty"`
}

// CharacterInfo is the per-character slice of the status projection.
type CharacterInfo struct {
	CharacterID      string     `json:"character_id"`
	CharacterName    string     `json:"character_name"`
	Paused           bool       `json:"paused"`
	InteractionCount int        `json:"interaction_count"`
	EngagementRate   float64    `json:"engagement_rate"`
	CooldownUntil    *time.Time `json:"cooldown_until,omitempty"`
}

// Status assembles the session projection.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	pending, err := o.newsStore.PendingCount(ctx)
	if err != nil {
		return Status{}, err
	}

	now := o.nowFn()
	st := Status{
		Active:              o.orch.Active(),
		SessionID:           o.sessionID,
		ActiveCharacters:    o.orch.ActiveCharacters(),
		PendingNews:         pending,
		ActiveConversations: o.orch.ConversationCount(),
		APICallsThisHour:    o.callsThisHour(),
		HealthScore:         o.HealthScore(),
	}
	if last := o.orch.LastActivity(); !last.IsZero() {
		st.LastActivity = &last
	}

	for _, id := range st.ActiveCharacters {
		agent, ok := o.orch.AgentFor(id)
		if !ok {
			continue
		}
		info := CharacterInfo{
			CharacterID:      agent.CharacterID,
			CharacterName:    agent.CharacterName,
			Paused:           agent.OnCooldown(now),
			InteractionCount: agent.InteractionCount,
			EngagementRate:   agent.EngagementRate,
			CooldownUntil:    agent.CooldownUntil,
		}
		st.Characters = append(st.Characters, info)
	}

	o.mu.Lock()
	st.SystemMessages = append([]string{}, o.messages...)
	o.mu.Unlock()
	return st, nil
}

// HealthScore condenses session health to [0,1]. Deductions: inactive session
// 0.5; provider call pressure 0.2 above 80 calls/hour or 0.1 above 60; 0.2
// when the last interaction is over an hour old. Call-pressure brackets do
// not stack, and a session that has never recorded activity takes no
// staleness deduction.
func (o *Orchestrator) HealthScore() float64 {
	score := 1.0
	if !o.orch.Active() {
		score -= 0.5
	}
	switch calls := o.callsThisHour(); {
	case calls > 80:
		score -= 0.2
	case calls > 60:
		score -= 0.1
	}
	if last := o.orch.LastActivity(); !last.IsZero() && o.nowFn().Sub(last) > time.Hour {
		score -= 0.2
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
