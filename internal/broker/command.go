// Package broker accepts automation commands, executes them synchronously
// against the orchestrator, and keeps a TTL-bounded audit trail of commands
// and responses in the key-value store.
package broker

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusExecuting Status = "EXECUTING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Command types the broker dispatches.
const (
	TypeScenarioTrigger = "scenario_trigger"
	TypeNewsInjection   = "news_injection"
	TypeCharacterChat   = "character_chat"
	TypeSystemStatus    = "system_status"
	TypeScenarioCreate  = "scenario_create"
	TypeCharacterConfig = "character_config"
	TypeAnalyticsQuery  = "analytics_query"
)

var knownTypes = map[string]bool{
	TypeScenarioTrigger: true,
	TypeNewsInjection:   true,
	TypeCharacterChat:   true,
	TypeSystemStatus:    true,
	TypeScenarioCreate:  true,
	TypeCharacterConfig: true,
	TypeAnalyticsQuery:  true,
}

// KnownType reports whether the command type has a handler. Unknown types are
// still accepted and recorded; they complete as structured failures.
func KnownType(commandType string) bool {
	return knownTypes[commandType]
}

type Command struct {
	CommandID  string         `json:"command_id"`
	Type       string         `json:"command_type"`
	SessionID  string         `json:"session_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source,omitempty"`
	Priority   string         `json:"priority,omitempty"`
}

type Response struct {
	CommandID string         `json:"command_id"`
	Status    Status         `json:"status"`
	SessionID string         `json:"session_id,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	// ExecutionTime is the wall-clock duration of the execution, in seconds.
	ExecutionTime float64        `json:"execution_time"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

var (
	ErrNotFound                = errors.New("command not found")
	ErrDuplicateCommand        = errors.New("command id already used")
	ErrInvalidStatusTransition = errors.New("invalid command status transition")
)

type StatusTransitionError struct {
	CommandID string
	From      Status
	To        Status
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("invalid command status transition for %s: %s -> %s", e.CommandID, e.From, e.To)
}

func (e *StatusTransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}

// canTransition encodes the command lifecycle: PENDING -> EXECUTING ->
// COMPLETED | FAILED | CANCELLED, plus PENDING -> CANCELLED for commands
// cancelled before execution starts. Terminal states never transition.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusExecuting || to == StatusCancelled
	case StatusExecuting:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}
