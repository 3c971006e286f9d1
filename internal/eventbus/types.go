package eventbus

// Event types emitted by the broker, workflow and orchestrator. Emission is
// an explicit step at each state transition, not a cross-cutting wrapper.
const (
	TypeCommandSubmitted = "command_submitted"
	TypeCommandCompleted = "command_completed"
	TypeCommandCancelled = "command_cancelled"

	TypeNewsInjected = "news_injected"

	TypeDecisionMade      = "decision_made"
	TypeResponseGenerated = "response_generated"
	TypeResponsePublished = "response_published"

	TypeCycleStarted      = "cycle_started"
	TypeCycleCompleted    = "cycle_completed"
	TypeCharacterPaused   = "character_paused"
	TypeCharacterResumed  = "character_resumed"
	TypeScenarioTriggered = "scenario_triggered"
)
