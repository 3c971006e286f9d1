package eventbus

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/castline/castd/internal/state"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "bus.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPublishJournalsAndBroadcasts(t *testing.T) {
	bus := NewBus(openTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := bus.Subscribe(ctx, "demo")

	evt, err := bus.Publish(ctx, Event{
		Type:      "command_submitted",
		SessionID: "demo",
		Source:    "broker",
		Data:      map[string]any{"command_id": "cmd-1"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if evt.ID == "" || evt.CreatedAt.IsZero() {
		t.Fatalf("expected assigned id and timestamp: %+v", evt)
	}

	select {
	case got := <-sub:
		if got.Type != "command_submitted" || got.Data["command_id"] != "cmd-1" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for broadcast")
	}

	listed, err := bus.List(ctx, Filter{SessionID: "demo"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != evt.ID {
		t.Fatalf("expected journaled event, got %+v", listed)
	}
}

func TestSubscribeFiltersBySession(t *testing.T) {
	bus := NewBus(openTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	demoSub := bus.Subscribe(ctx, "demo")
	allSub := bus.Subscribe(ctx, "")

	if _, err := bus.Publish(ctx, Event{Type: "cycle_completed", SessionID: "other"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-allSub:
		if got.SessionID != "other" {
			t.Fatalf("unexpected session: %s", got.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting on wildcard subscriber")
	}

	select {
	case got := <-demoSub:
		t.Fatalf("demo subscriber should not receive other session events: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	bus := NewBus(openTestDB(t))
	ctx := context.Background()

	for _, typ := range []string{"command_submitted", "command_completed", "command_submitted"} {
		if _, err := bus.Publish(ctx, Event{Type: typ, SessionID: "s"}); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	submitted, err := bus.List(ctx, Filter{SessionID: "s", Type: "command_submitted"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(submitted) != 2 {
		t.Fatalf("expected 2 submitted events, got %d", len(submitted))
	}
	if submitted[0].CreatedAt.Before(submitted[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}

	limited, err := bus.List(ctx, Filter{SessionID: "s", Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit applied, got %d", len(limited))
	}
}

func TestPublishRequiresType(t *testing.T) {
	bus := NewBus(openTestDB(t))
	if _, err := bus.Publish(context.Background(), Event{SessionID: "s"}); err == nil {
		t.Fatalf("expected error for missing event_type")
	}
}

func TestSubscriberCleanupOnCancel(t *testing.T) {
	bus := NewBus(openTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx, "demo")
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	cancel()

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for close")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber removed")
	}
}
