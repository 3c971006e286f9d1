// Package news models incoming news items and their sqlite intake queue.
package news

import (
	"strings"
	"time"

	"github.com/castline/castd/internal/idgen"
)

// Item is one piece of incoming news. Items are immutable once created;
// downstream engagement records reference them by ID.
type Item struct {
	ID       string `json:"id"`
	Headline string `json:"headline"`
	Content  string `json:"content"`
	// Topics is order-preserving and may contain duplicates; a duplicate
	// marks intentional topic emphasis and counts twice in scoring.
	Topics      []string  `json:"topics"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	// RelevanceScore is normalized to [0,1] at intake. Producers sending
	// values above 1 are clamped; a missing score defaults to 1 so unscored
	// items are not penalized.
	RelevanceScore float64 `json:"relevance_score"`
}

// Normalize fills defaults and clamps the relevance score. It returns the
// normalized copy; the input is not mutated.
func Normalize(item Item) Item {
	if strings.TrimSpace(item.ID) == "" {
		item.ID = idgen.New()
	}
	if item.PublishedAt.IsZero() {
		item.PublishedAt = time.Now().UTC()
	}
	topics := make([]string, 0, len(item.Topics))
	for _, t := range item.Topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		topics = append(topics, t)
	}
	item.Topics = topics

	switch {
	case item.RelevanceScore <= 0:
		item.RelevanceScore = 1.0
	case item.RelevanceScore > 1:
		item.RelevanceScore = 1.0
	}
	return item
}

// Validate reports whether the item carries the minimum required fields.
func Validate(item Item) error {
	if strings.TrimSpace(item.Headline) == "" {
		return errEmptyHeadline
	}
	return nil
}
