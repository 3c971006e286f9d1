// Package social defines the social-platform boundary: posting, searching
// and content validation. Platform rules (length limits etc.) live here, not
// in the workflow.
package social

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MaxPostLength is the platform hard cap; WarnPostLength triggers a warning
// without rejecting.
const (
	MaxPostLength  = 280
	WarnPostLength = 260
)

type Post struct {
	Content       string
	CharacterID   string
	CharacterName string
	ReplyTo       string
	Quote         string
	ThreadID      string
}

type PostResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type SearchQuery struct {
	Query      string
	MaxResults int
	Since      time.Time
	Until      time.Time
}

type SearchResult struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"character_id,omitempty"`
	Content     string    `json:"content"`
	ThreadID    string    `json:"thread_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Validation struct {
	Valid    bool     `json:"valid"`
	Length   int      `json:"length"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Provider is the downstream social-platform capability.
type Provider interface {
	Post(ctx context.Context, post Post) (PostResult, error)
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)
	ValidateContent(content string) Validation
	HealthCheck(ctx context.Context) bool
}

// ValidateContent applies the platform content rules shared by all provider
// implementations.
func ValidateContent(content string) Validation {
	v := Validation{Length: len(content)}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		v.Errors = append(v.Errors, "content is empty")
	}
	if len(content) > MaxPostLength {
		v.Errors = append(v.Errors, fmt.Sprintf("content exceeds %d characters", MaxPostLength))
	} else if len(content) > WarnPostLength {
		v.Warnings = append(v.Warnings, fmt.Sprintf("content close to the %d character limit", MaxPostLength))
	}
	v.Valid = len(v.Errors) == 0
	return v
}
