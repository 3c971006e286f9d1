package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castd/internal/eventbus"
	"github.com/castline/castd/internal/idgen"
	"github.com/castline/castd/internal/state"
)

// ResponseTTL bounds how long commands and responses stay queryable.
const ResponseTTL = time.Hour

const (
	commandKeyPrefix  = "command:"
	responseKeyPrefix = "command_response:"
)

// Handler executes one command and returns its structured result.
type Handler interface {
	Handle(ctx context.Context, cmd Command) (map[string]any, error)
}

type Broker struct {
	kv      *state.KV
	bus     *eventbus.Bus
	handler Handler
	log     *zap.Logger
	nowFn   func() time.Time

	mu       sync.Mutex
	inflight map[string]Status // commands currently executing
}

type Option func(*Broker)

// WithClock overrides the broker clock for tests.
func WithClock(nowFn func() time.Time) Option {
	return func(b *Broker) {
		if nowFn != nil {
			b.nowFn = nowFn
		}
	}
}

func NewBroker(kv *state.KV, bus *eventbus.Bus, handler Handler, log *zap.Logger, opts ...Option) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Broker{
		kv:       kv,
		bus:      bus,
		handler:  handler,
		log:      log,
		nowFn:    func() time.Time { return time.Now().UTC() },
		inflight: map[string]Status{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit validates, persists and synchronously executes a command, returning
// the terminal response. Handler errors complete the command as FAILED; they
// do not propagate as Submit errors.
func (b *Broker) Submit(ctx context.Context, cmd Command) (Response, error) {
	if cmd.CommandID == "" {
		cmd.CommandID = idgen.New()
	} else if err := idgen.ValidateCommandID(cmd.CommandID); err != nil {
		return Response{}, err
	}
	if cmd.Type == "" {
		return Response{}, fmt.Errorf("command_type is required")
	}
	if b.exists(ctx, cmd.CommandID) {
		return Response{}, fmt.Errorf("command %s: %w", cmd.CommandID, ErrDuplicateCommand)
	}

	now := b.nowFn()
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = now
	}
	if err := b.putJSON(ctx, commandKeyPrefix+cmd.CommandID, cmd); err != nil {
		return Response{}, err
	}

	if err := b.transition(cmd.CommandID, StatusPending, StatusExecuting); err != nil {
		return Response{}, err
	}
	b.emit(ctx, eventbus.TypeCommandSubmitted, cmd.SessionID, map[string]any{
		"command_id":   cmd.CommandID,
		"command_type": cmd.Type,
	})

	result, execErr := b.handler.Handle(ctx, cmd)

	resp := Response{
		CommandID:   cmd.CommandID,
		SessionID:   cmd.SessionID,
		Result:      result,
		Metadata:    responseMetadata(cmd),
		SubmittedAt: cmd.Timestamp,
	}
	completed := b.nowFn()
	resp.CompletedAt = &completed
	resp.ExecutionTime = completed.Sub(now).Seconds()

	final := StatusCompleted
	if execErr != nil {
		final = StatusFailed
		resp.Error = execErr.Error()
	}
	// A cancel that raced the execution wins over the execution outcome.
	if b.takeCancelled(cmd.CommandID) {
		final = StatusCancelled
		resp.Result = nil
		resp.Error = "cancelled during execution"
	}
	resp.Status = final

	if err := b.putJSON(ctx, responseKeyPrefix+cmd.CommandID, resp); err != nil {
		return Response{}, err
	}
	b.clearInflight(cmd.CommandID)

	b.emit(ctx, eventbus.TypeCommandCompleted, cmd.SessionID, map[string]any{
		"command_id":   cmd.CommandID,
		"command_type": cmd.Type,
		"status":       string(final),
	})
	return resp, nil
}

// Status resolves a command's current state: executing commands first, then
// the persisted response, then the persisted command as PENDING.
func (b *Broker) Status(ctx context.Context, commandID string) (Response, error) {
	b.mu.Lock()
	st, executing := b.inflight[commandID]
	b.mu.Unlock()
	if executing && st == StatusExecuting {
		var cmd Command
		resp := Response{CommandID: commandID, Status: StatusExecuting}
		if err := b.getJSON(ctx, commandKeyPrefix+commandID, &cmd); err == nil {
			resp.SessionID = cmd.SessionID
			resp.SubmittedAt = cmd.Timestamp
		}
		return resp, nil
	}

	var resp Response
	if err := b.getJSON(ctx, responseKeyPrefix+commandID, &resp); err == nil {
		return resp, nil
	}

	var cmd Command
	if err := b.getJSON(ctx, commandKeyPrefix+commandID, &cmd); err == nil {
		return Response{
			CommandID:   cmd.CommandID,
			Status:      StatusPending,
			SessionID:   cmd.SessionID,
			SubmittedAt: cmd.Timestamp,
		}, nil
	}
	return Response{}, fmt.Errorf("command %s: %w", commandID, ErrNotFound)
}

// Cancel requests cancellation. An executing command is marked so the cancel
// wins once execution returns; a pending command is finalized immediately.
// Terminal commands report false.
func (b *Broker) Cancel(ctx context.Context, commandID string) (bool, error) {
	b.mu.Lock()
	if st, ok := b.inflight[commandID]; ok && st == StatusExecuting {
		b.inflight[commandID] = StatusCancelled
		b.mu.Unlock()
		b.emitCancel(ctx, commandID)
		return true, nil
	}
	b.mu.Unlock()

	var resp Response
	if err := b.getJSON(ctx, responseKeyPrefix+commandID, &resp); err == nil {
		return false, nil
	}

	var cmd Command
	if err := b.getJSON(ctx, commandKeyPrefix+commandID, &cmd); err != nil {
		return false, fmt.Errorf("command %s: %w", commandID, ErrNotFound)
	}
	completed := b.nowFn()
	cancelled := Response{
		CommandID:   cmd.CommandID,
		Status:      StatusCancelled,
		SessionID:   cmd.SessionID,
		Metadata:    responseMetadata(cmd),
		SubmittedAt: cmd.Timestamp,
		CompletedAt: &completed,
	}
	if err := b.putJSON(ctx, responseKeyPrefix+commandID, cancelled); err != nil {
		return false, err
	}
	b.emitCancel(ctx, commandID)
	return true, nil
}

// History returns recent responses newest first, optionally filtered by
// session.
func (b *Broker) History(ctx context.Context, sessionID string, limit int) ([]Response, error) {
	if limit <= 0 {
		limit = 20
	}
	raw, err := b.kv.Prefix(ctx, responseKeyPrefix, limit*5)
	if err != nil {
		return nil, fmt.Errorf("scan command history: %w", err)
	}

	var out []Response
	for _, data := range raw {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if sessionID != "" && resp.SessionID != sessionID {
			continue
		}
		out = append(out, resp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func responseMetadata(cmd Command) map[string]any {
	meta := map[string]any{"command_type": cmd.Type}
	if cmd.Source != "" {
		meta["source"] = cmd.Source
	}
	if cmd.Priority != "" {
		meta["priority"] = cmd.Priority
	}
	return meta
}

func (b *Broker) exists(ctx context.Context, commandID string) bool {
	b.mu.Lock()
	_, inflight := b.inflight[commandID]
	b.mu.Unlock()
	if inflight {
		return true
	}
	if _, err := b.kv.Get(ctx, commandKeyPrefix+commandID); err == nil {
		return true
	}
	if _, err := b.kv.Get(ctx, responseKeyPrefix+commandID); err == nil {
		return true
	}
	return false
}

func (b *Broker) transition(commandID string, from, to Status) error {
	if !canTransition(from, to) {
		return &StatusTransitionError{CommandID: commandID, From: from, To: to}
	}
	b.mu.Lock()
	b.inflight[commandID] = to
	b.mu.Unlock()
	return nil
}

// takeCancelled reports whether a cancel raced the execution.
func (b *Broker) takeCancelled(commandID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inflight[commandID] == StatusCancelled
}

func (b *Broker) clearInflight(commandID string) {
	b.mu.Lock()
	delete(b.inflight, commandID)
	b.mu.Unlock()
}

func (b *Broker) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := b.kv.Put(ctx, key, data, ResponseTTL); err != nil {
		return err
	}
	return nil
}

func (b *Broker) getJSON(ctx context.Context, key string, v any) error {
	data, err := b.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (b *Broker) emitCancel(ctx context.Context, commandID string) {
	b.emit(ctx, eventbus.TypeCommandCancelled, "", map[string]any{"command_id": commandID})
}

func (b *Broker) emit(ctx context.Context, eventType, sessionID string, data map[string]any) {
	if b.bus == nil {
		return
	}
	if _, err := b.bus.Publish(ctx, eventbus.Event{
		Type:      eventType,
		SessionID: sessionID,
		Source:    "broker",
		Data:      data,
	}); err != nil {
		b.log.Warn("event publish failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
