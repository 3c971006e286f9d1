// Package scenario bundles named demo scripts: canned news drops and
// conversation openers that drive the ensemble through a full cycle.
package scenario

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/castline/castd/internal/eventbus"
	"github.com/castline/castd/internal/news"
	"github.com/castline/castd/internal/orchestrator"
)

// Preset is one runnable scenario. Items are injected as pending news; when
// ThreadOpener is set a conversation thread is opened and run for
// ThreadRounds rounds after the news cycle.
type Preset struct {
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Items        []news.Item `json:"items,omitempty"`
	ThreadOpener string      `json:"thread_opener,omitempty"`
	ThreadTopics []string    `json:"thread_topics,omitempty"`
	ThreadRounds int         `json:"thread_rounds,omitempty"`
}

// Result reports what a scenario run did.
type Result struct {
	Scenario string                   `json:"scenario"`
	Cycle    orchestrator.CycleResult `json:"cycle"`
	ThreadID string                   `json:"thread_id,omitempty"`
}

var ErrUnknownScenario = fmt.Errorf("unknown scenario")

type Registry struct {
	bus *eventbus.Bus
	log *zap.Logger

	mu      sync.RWMutex
	presets map[string]Preset
	order   []string
}

func NewRegistry(bus *eventbus.Bus, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{bus: bus, log: log, presets: map[string]Preset{}}
}

// Register adds or replaces a preset.
func (r *Registry) Register(p Preset) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(p.Items) == 0 && p.ThreadOpener == "" {
		return fmt.Errorf("scenario %s: needs news items or a thread opener", name)
	}
	p.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.presets[name]; !exists {
		r.order = append(r.order, name)
	}
	r.presets[name] = p
	return nil
}

// Names lists registered scenarios in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}

// Get returns a preset by name.
func (r *Registry) Get(name string) (Preset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[name]
	return p, ok
}

// Run injects the preset's news and drives a cycle, then runs the preset's
// conversation thread if it has one.
func (r *Registry) Run(ctx context.Context, o *orchestrator.Orchestrator, sessionID, name string) (Result, error) {
	preset, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("scenario %s: %w", name, ErrUnknownScenario)
	}

	for _, item := range preset.Items {
		if _, err := o.InjectNews(ctx, item); err != nil {
			return Result{}, fmt.Errorf("scenario %s: inject %q: %w", name, item.Headline, err)
		}
	}

	result := Result{Scenario: name}
	cycle, err := o.RunCycle(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("scenario %s: %w", name, err)
	}
	result.Cycle = cycle

	if preset.ThreadOpener != "" {
		thread, err := o.StartThread(ctx, name, preset.ThreadOpener)
		if err != nil {
			return Result{}, fmt.Errorf("scenario %s: %w", name, err)
		}
		result.ThreadID = thread.ThreadID
		threadCycle, err := o.RunThread(ctx, thread.ThreadID, preset.ThreadTopics, preset.ThreadRounds)
		if err != nil {
			return Result{}, fmt.Errorf("scenario %s: %w", name, err)
		}
		result.Cycle.Engaged += threadCycle.Engaged
		result.Cycle.Skipped += threadCycle.Skipped
		result.Cycle.Failed += threadCycle.Failed
		result.Cycle.Published += threadCycle.Published
		result.Cycle.Messages = append(result.Cycle.Messages, threadCycle.Messages...)
	}

	r.emit(ctx, sessionID, name, result)
	return result, nil
}

// Defaults returns the built-in demo scenarios.
func Defaults() []Preset {
	return []Preset{
		{
			Name:        "festival",
			Description: "The neighborhood festival is announced and the ensemble reacts.",
			Items: []news.Item{
				{
					Headline:       "El festival del barrio vuelve este sábado",
					Content:        "Tres días de música, cocina tradicional y baile en la plaza.",
					Topics:         []string{"festival", "comunidad", "cocina"},
					Source:         "scenario",
					RelevanceScore: 0.9,
				},
			},
			ThreadOpener: "¿Quién se apunta al festival del sábado? Habrá tamales de los de verdad.",
			ThreadTopics: []string{"festival", "comunidad"},
			ThreadRounds: 2,
		},
		{
			Name:        "derby",
			Description: "Derby night: high-energy sports news plus a heated thread.",
			Items: []news.Item{
				{
					Headline:       "Esta noche se juega el derby del siglo",
					Content:        "Los dos equipos del barrio llegan invictos al clásico.",
					Topics:         []string{"futbol", "derby", "deportes"},
					Source:         "scenario",
					RelevanceScore: 1.0,
				},
			},
			ThreadOpener: "El derby de esta noche va a ser histórico. ¿Pronósticos?",
			ThreadTopics: []string{"futbol", "derby"},
			ThreadRounds: 3,
		},
		{
			Name:        "quiet-day",
			Description: "Low-relevance filler news; most characters should sit it out.",
			Items: []news.Item{
				{
					Headline:       "El ayuntamiento renueva los bancos de la plaza",
					Content:        "Obras menores de mantenimiento durante la semana.",
					Topics:         []string{"urbanismo"},
					Source:         "scenario",
					RelevanceScore: 0.3,
				},
			},
		},
	}
}

// RegisterDefaults loads the built-in presets, skipping any name already
// registered.
func (r *Registry) RegisterDefaults() {
	for _, p := range Defaults() {
		if _, exists := r.Get(p.Name); exists {
			continue
		}
		if err := r.Register(p); err != nil {
			r.log.Warn("default scenario rejected", zap.String("scenario", p.Name), zap.Error(err))
		}
	}
}

func (r *Registry) emit(ctx context.Context, sessionID, name string, result Result) {
	if r.bus == nil {
		return
	}
	if _, err := r.bus.Publish(ctx, eventbus.Event{
		Type:      eventbus.TypeScenarioTriggered,
		SessionID: sessionID,
		Source:    "scenario",
		Data: map[string]any{
			"scenario":  name,
			"engaged":   result.Cycle.Engaged,
			"skipped":   result.Cycle.Skipped,
			"failed":    result.Cycle.Failed,
			"thread_id": result.ThreadID,
		},
	}); err != nil {
		r.log.Warn("event publish failed", zap.Error(err))
	}
}
