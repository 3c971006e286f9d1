package social

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/castline/castd/internal/idgen"
)

// Local is a sqlite-backed provider used for demos and offline runs: posts
// land in the local posts table instead of an external platform.
type Local struct {
	db    *sql.DB
	nowFn func() time.Time
}

func NewLocal(db *sql.DB) *Local {
	return &Local{db: db, nowFn: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the provider clock for tests.
func (l *Local) WithClock(nowFn func() time.Time) *Local {
	if nowFn != nil {
		l.nowFn = nowFn
	}
	return l
}

func (l *Local) Post(ctx context.Context, post Post) (PostResult, error) {
	if v := l.ValidateContent(post.Content); !v.Valid {
		return PostResult{Success: false, Error: strings.Join(v.Errors, "; ")}, nil
	}
	if strings.TrimSpace(post.CharacterID) == "" {
		return PostResult{Success: false, Error: "character_id is required"}, nil
	}

	id := idgen.New()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO posts (id, character_id, character_name, content, reply_to, quote, thread_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, post.CharacterID, nullString(post.CharacterName), post.Content,
		nullString(post.ReplyTo), nullString(post.Quote), nullString(post.ThreadID),
		l.nowFn().Format(time.RFC3339Nano))
	if err != nil {
		return PostResult{}, fmt.Errorf("insert post: %w", err)
	}
	return PostResult{Success: true, ID: id}, nil
}

func (l *Local) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	limit := query.MaxResults
	if limit <= 0 {
		limit = 20
	}

	sqlQuery := `SELECT id, character_id, content, thread_id, created_at FROM posts`
	var clauses []string
	var args []any
	if strings.TrimSpace(query.Query) != "" {
		clauses = append(clauses, "content LIKE ?")
		args = append(args, "%"+query.Query+"%")
	}
	if !query.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, query.Since.UTC().Format(time.RFC3339Nano))
	}
	if !query.Until.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, query.Until.UTC().Format(time.RFC3339Nano))
	}
	if len(clauses) > 0 {
		sqlQuery += " WHERE " + strings.Join(clauses, " AND ")
	}
	sqlQuery += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var threadID sql.NullString
		var createdAtStr string
		if err := rows.Scan(&r.ID, &r.CharacterID, &r.Content, &threadID, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		r.ThreadID = threadID.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

func (l *Local) ValidateContent(content string) Validation {
	return ValidateContent(content)
}

func (l *Local) HealthCheck(ctx context.Context) bool {
	return l.db.PingContext(ctx) == nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
