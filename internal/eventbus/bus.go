// Package eventbus fans orchestration lifecycle events out to live
// subscribers (dashboard, automation tooling) and journals them to sqlite.
// Delivery to subscribers is at-most-once and best-effort: a slow subscriber
// drops events rather than blocking a publisher.
package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	SessionID string         `json:"session_id,omitempty"`
	Source    string         `json:"source,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"timestamp"`
}

type Filter struct {
	SessionID string
	Type      string
	Limit     int
}

type Bus struct {
	db *sql.DB

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	sessionID string // "" subscribes to every session
	ch        chan Event
}

func NewBus(db *sql.DB) *Bus {
	return &Bus{db: db, subs: map[string]*subscriber{}}
}

// Publish journals the event and broadcasts it to live subscribers. The
// event's ID and timestamp are assigned here.
func (b *Bus) Publish(ctx context.Context, event Event) (Event, error) {
	if strings.TrimSpace(event.Type) == "" {
		return Event{}, fmt.Errorf("event_type is required")
	}

	event.ID = ulid.Make().String()
	event.CreatedAt = time.Now().UTC()

	dataJSON, err := encodeJSON(event.Data)
	if err != nil {
		return Event{}, fmt.Errorf("encode event data: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, session_id, source, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID, event.Type, event.SessionID, nullString(event.Source), dataJSON, event.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	b.broadcast(event)
	return event, nil
}

// List returns journaled events newest first, filtered by session and type.
func (b *Bus) List(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, event_type, session_id, source, data, created_at FROM events`
	var clauses []string
	var args []any
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Type != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, filter.Type)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var source, dataStr sql.NullString
		var createdAtStr string
		if err := rows.Scan(&e.ID, &e.Type, &e.SessionID, &source, &dataStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Source = source.String
		e.Data = decodeJSONMap(dataStr.String)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Subscribe returns a channel of live events for the session. An empty
// sessionID receives every session's events. The channel closes when ctx is
// done. Delivery order per subscriber follows publish order.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) <-chan Event {
	ch := make(chan Event, 64)
	id := ulid.Make().String()

	sub := &subscriber{sessionID: sessionID, ch: ch}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != event.SessionID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Drop if subscriber is slow.
		}
	}
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
