package news

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var errEmptyHeadline = errors.New("headline is required")

// Store is the sqlite-backed news intake queue. Injected items are pending
// until an orchestration cycle consumes them.
type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, nowFn: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the store clock for tests.
func (s *Store) WithClock(nowFn func() time.Time) *Store {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// Add normalizes, validates and enqueues an item, returning the stored copy.
func (s *Store) Add(ctx context.Context, item Item) (Item, error) {
	item = Normalize(item)
	if err := Validate(item); err != nil {
		return Item{}, err
	}
	topicsJSON, err := json.Marshal(item.Topics)
	if err != nil {
		return Item{}, fmt.Errorf("encode topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO news_items (id, headline, content, topics, source, published_at, relevance_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Headline, item.Content, string(topicsJSON), nullString(item.Source),
		item.PublishedAt.Format(time.RFC3339Nano), item.RelevanceScore, s.nowFn().Format(time.RFC3339Nano))
	if err != nil {
		return Item{}, fmt.Errorf("insert news item: %w", err)
	}
	return item, nil
}

// ListPending returns unprocessed items oldest first, up to limit.
func (s *Store) ListPending(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, headline, content, topics, source, published_at, relevance_score
		FROM news_items
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending news: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// PendingCount returns how many items await processing.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM news_items WHERE processed_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending news: %w", err)
	}
	return n, nil
}

// MarkProcessed stamps the given items as consumed by a cycle.
func (s *Store) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{s.nowFn().Format(time.RFC3339Nano)}
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE news_items SET processed_at = ? WHERE id IN (%s)`, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// Recent returns the latest items regardless of processing state, newest
// first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, headline, content, topics, source, published_at, relevance_score
		FROM news_items
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent news: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		var item Item
		var content, topicsStr, source sql.NullString
		var publishedAtStr string
		if err := rows.Scan(&item.ID, &item.Headline, &content, &topicsStr, &source, &publishedAtStr, &item.RelevanceScore); err != nil {
			return nil, fmt.Errorf("scan news item: %w", err)
		}
		item.Content = content.String
		item.Source = source.String
		item.PublishedAt, _ = time.Parse(time.RFC3339Nano, publishedAtStr)
		if topicsStr.Valid && topicsStr.String != "" {
			_ = json.Unmarshal([]byte(topicsStr.String), &item.Topics)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate news items: %w", err)
	}
	return out, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
