package respond

import (
	"fmt"
	"strings"

	"github.com/castline/castd/internal/ai"
	"github.com/castline/castd/internal/persona"
)

// BuildPrompt assembles the bounded prompt for one generation: the character
// system block, the trimmed history window (most-recent-last) and the
// situation text. History beyond maxHistory entries is dropped from the
// oldest end.
func BuildPrompt(p *persona.Personality, situation, targetTopic string, history []ai.Message, maxHistory int) ai.Prompt {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	trimmed := make([]ai.Message, len(history))
	copy(trimmed, history)

	return ai.Prompt{
		System:      p.SystemPrompt(),
		Context:     situation,
		History:     trimmed,
		TargetTopic: targetTopic,
	}
}

// NewsSituation renders a news item into the situation text the character
// reacts to.
func NewsSituation(headline, content, tone string) string {
	var b strings.Builder
	b.WriteString("React to this news in one short social post, in your own voice.\n")
	fmt.Fprintf(&b, "Headline: %s\n", headline)
	if strings.TrimSpace(content) != "" {
		fmt.Fprintf(&b, "%s\n", content)
	}
	if tone != "" {
		fmt.Fprintf(&b, "Emotional register: %s", tone)
	}
	return strings.TrimSpace(b.String())
}
