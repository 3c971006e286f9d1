// Package engage decides whether a character reacts to a candidate news item
// or thread. The engine is pure: it reads personality and agent state and
// never performs I/O.
package engage

import (
	"fmt"
	"strings"
	"time"

	"github.com/castline/castd/internal/persona"
	"github.com/castline/castd/internal/state"
)

// Candidate is the unit a character considers engaging with: a news item's
// topic set, or an ongoing thread.
type Candidate struct {
	// Topics is order-preserving; duplicates mark intentional emphasis and
	// are counted twice.
	Topics []string
	// Relevance is the normalized [0,1] relevance score; it scales the topic
	// component of the confidence.
	Relevance float64
	// Thread, when set, marks a thread context and enables the per-thread
	// reply-cap gate.
	Thread *state.ThreadState
}

type Decision struct {
	Engage     bool    `json:"engage"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Confidence weights. The formula is:
//
//	confidence = topicScore*relevance*0.6 + culturalScore*0.2 + energy*0.2
//
// where topicScore is the mean interest weight over the candidate's topics,
// culturalScore is the fraction of topics carrying a cultural marker, and
// energy is the clamped base energy level. Ties against the engagement
// threshold resolve to not engaging.
const (
	topicWeight    = 0.6
	culturalWeight = 0.2
	energyWeight   = 0.2

	// tieEpsilon keeps float rounding from flipping an exact tie into an
	// engagement.
	tieEpsilon = 1e-9
)

type Engine struct {
	nowFn func() time.Time
}

func NewEngine() *Engine {
	return &Engine{nowFn: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the engine clock for cooldown tests.
func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	if nowFn != nil {
		e.nowFn = nowFn
	}
	return e
}

// Decide evaluates one (character, candidate) pairing.
func (e *Engine) Decide(p *persona.Personality, agent *state.AgentState, cand Candidate) Decision {
	now := e.nowFn()
	if agent != nil && agent.OnCooldown(now) {
		return Decision{Engage: false, Confidence: 0, Reasoning: "on cooldown"}
	}
	if cand.Thread != nil && !cand.Thread.CanReply(p.CharacterID) {
		return Decision{Engage: false, Confidence: 0, Reasoning: "thread reply cap reached"}
	}
	if len(cand.Topics) == 0 {
		return Decision{Engage: false, Confidence: 0, Reasoning: "no topics to score"}
	}

	relevance := cand.Relevance
	if relevance <= 0 {
		relevance = 1.0
	} else if relevance > 1 {
		relevance = 1.0
	}

	topicScore := e.topicScore(p, cand.Topics)
	culturalScore := e.culturalScore(p, cand.Topics)
	energy := clamp01(p.BaseEnergyLevel)

	confidence := clamp01(topicScore*relevance*topicWeight + culturalScore*culturalWeight + energy*energyWeight)
	engaged := confidence > p.EngagementThreshold+tieEpsilon

	reasoning := fmt.Sprintf(
		"topic %.2f, cultural %.2f, energy %.2f -> confidence %.2f vs threshold %.2f",
		topicScore, culturalScore, energy, confidence, p.EngagementThreshold,
	)
	return Decision{Engage: engaged, Confidence: confidence, Reasoning: reasoning}
}

// topicScore is the mean of the personality's interest weights over the
// candidate topics. Unknown topics weigh zero; duplicates count every time.
func (e *Engine) topicScore(p *persona.Personality, topics []string) float64 {
	var total float64
	for _, topic := range topics {
		total += p.TopicsOfInterest[normalizeTopic(topic)]
	}
	return total / float64(len(topics))
}

// culturalScore is the fraction of candidate topics that carry any of the
// personality's cultural context markers.
func (e *Engine) culturalScore(p *persona.Personality, topics []string) float64 {
	if len(p.CulturalContext) == 0 {
		return 0
	}
	matched := 0
	for _, topic := range topics {
		t := normalizeTopic(topic)
		for _, marker := range p.CulturalContext {
			if strings.Contains(t, strings.ToLower(marker)) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(topics))
}

func normalizeTopic(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
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
