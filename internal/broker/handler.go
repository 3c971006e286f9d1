package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/castline/castd/internal/ai"
	"github.com/castline/castd/internal/news"
	"github.com/castline/castd/internal/orchestrator"
	"github.com/castline/castd/internal/scenario"
)

// Dispatcher routes commands to the orchestrator and scenario registry. Every
// handler returns a structured result map; an error marks the command FAILED.
type Dispatcher struct {
	orch      *orchestrator.Orchestrator
	scenarios *scenario.Registry
}

func NewDispatcher(orch *orchestrator.Orchestrator, scenarios *scenario.Registry) *Dispatcher {
	return &Dispatcher{orch: orch, scenarios: scenarios}
}

func (d *Dispatcher) Handle(ctx context.Context, cmd Command) (map[string]any, error) {
	switch cmd.Type {
	case TypeScenarioTrigger:
		return d.scenarioTrigger(ctx, cmd)
	case TypeNewsInjection:
		return d.newsInjection(ctx, cmd)
	case TypeCharacterChat:
		return d.characterChat(ctx, cmd)
	case TypeSystemStatus:
		return d.systemStatus(ctx)
	case TypeScenarioCreate:
		return d.scenarioCreate(cmd)
	case TypeCharacterConfig:
		return d.characterConfig(ctx, cmd)
	case TypeAnalyticsQuery:
		return d.analyticsQuery(ctx, cmd)
	default:
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

func (d *Dispatcher) scenarioTrigger(ctx context.Context, cmd Command) (map[string]any, error) {
	name := ParamString(cmd.Parameters, "scenario_name")
	if name == "" {
		name = ParamString(cmd.Parameters, "scenario")
	}
	if name == "" {
		return nil, fmt.Errorf("scenario_name parameter is required")
	}
	result, err := d.scenarios.Run(ctx, d.orch, cmd.SessionID, name)
	if err != nil {
		return nil, err
	}
	out := toMap(result)
	out["success"] = true
	return out, nil
}

func (d *Dispatcher) newsInjection(ctx context.Context, cmd Command) (map[string]any, error) {
	params := cmd.Parameters
	if nested := ParamMap(params, "news"); nested != nil {
		params = nested
	}
	headline := ParamString(params, "headline")
	if headline == "" {
		headline = ParamString(params, "title")
	}
	topics := ParamStringSlice(params, "topics")
	if category := ParamString(params, "category"); category != "" && !slices.Contains(topics, category) {
		topics = append(topics, category)
	}
	item := news.Item{
		Headline:       headline,
		Content:        ParamString(params, "content"),
		Topics:         topics,
		Source:         ParamString(params, "source"),
		RelevanceScore: ParamFloat(params, "relevance_score"),
	}
	stored, err := d.orch.InjectNews(ctx, item)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"success": true,
		"news_id": stored.ID,
	}
	if ParamBool(cmd.Parameters, "run_cycle") {
		cycle, err := d.orch.RunCycle(ctx)
		if err != nil {
			return nil, err
		}
		out["cycle"] = toMap(cycle)
	}
	return out, nil
}

func (d *Dispatcher) characterChat(ctx context.Context, cmd Command) (map[string]any, error) {
	characterID := ParamString(cmd.Parameters, "character_id")
	message := ParamString(cmd.Parameters, "message")
	if characterID == "" || message == "" {
		return nil, fmt.Errorf("character_id and message parameters are required")
	}
	resp, err := d.orch.Chat(ctx, characterID, message, chatHistory(cmd.Parameters))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":      true,
		"character_id": characterID,
		"response":     toMap(resp),
	}, nil
}

func (d *Dispatcher) systemStatus(ctx context.Context) (map[string]any, error) {
	status, err := d.orch.Status(ctx)
	if err != nil {
		return nil, err
	}
	out := toMap(status)
	out["success"] = true
	return out, nil
}

func (d *Dispatcher) scenarioCreate(cmd Command) (map[string]any, error) {
	var preset scenario.Preset
	raw := cmd.Parameters
	if nested := ParamMap(raw, "scenario"); nested != nil {
		raw = nested
	}
	if err := remarshal(raw, &preset); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := d.scenarios.Register(preset); err != nil {
		return nil, err
	}
	return map[string]any{
		"success":   true,
		"scenario":  preset.Name,
		"scenarios": d.scenarios.Names(),
	}, nil
}

func (d *Dispatcher) characterConfig(ctx context.Context, cmd Command) (map[string]any, error) {
	characterID := ParamString(cmd.Parameters, "character_id")
	action := strings.ToLower(ParamString(cmd.Parameters, "action"))
	if characterID == "" {
		return nil, fmt.Errorf("character_id parameter is required")
	}
	switch action {
	case "pause":
		if err := d.orch.PauseCharacter(ctx, characterID); err != nil {
			return nil, err
		}
	case "resume":
		if err := d.orch.ResumeCharacter(ctx, characterID); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown character_config action %q", action)
	}
	return map[string]any{
		"success":      true,
		"character_id": characterID,
		"action":       action,
	}, nil
}

func (d *Dispatcher) analyticsQuery(ctx context.Context, cmd Command) (map[string]any, error) {
	queryType := strings.ToLower(ParamString(cmd.Parameters, "query_type"))
	switch queryType {
	case "reactions", "":
		characterID := ParamString(cmd.Parameters, "character_id")
		limit := ParamInt(cmd.Parameters, "limit")
		reactions := d.orch.Reactions(characterID, limit)
		items := make([]any, 0, len(reactions))
		for _, r := range reactions {
			items = append(items, toMap(r))
		}
		return map[string]any{
			"success":   true,
			"reactions": items,
			"count":     len(items),
		}, nil
	case "health":
		status, err := d.orch.Status(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":             true,
			"health_score":        status.HealthScore,
			"api_calls_this_hour": status.APICallsThisHour,
			"active":              status.Active,
		}, nil
	default:
		return nil, fmt.Errorf("unknown analytics query_type %q", queryType)
	}
}

func chatHistory(params map[string]any) []ai.Message {
	raw, ok := params["history"].([]any)
	if !ok {
		return nil
	}
	var out []ai.Message
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		msg := ai.Message{
			Role:    ParamString(m, "role"),
			Content: ParamString(m, "content"),
		}
		if msg.Content != "" {
			out = append(out, msg)
		}
	}
	return out
}

// toMap flattens a struct into the map shape command results use.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func remarshal(src map[string]any, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
