package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrKeyNotFound is returned by Get for missing or expired keys.
var ErrKeyNotFound = errors.New("key not found")

// KV is a sqlite-backed key-value store with per-key TTL. Expired entries
// are treated as absent and purged lazily on read plus in bulk via
// PurgeExpired.
type KV struct {
	db    *sql.DB
	nowFn func() time.Time
}

func NewKV(db *sql.DB) *KV {
	return &KV{db: db, nowFn: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the KV clock. Used by tests to exercise expiry.
func (kv *KV) WithClock(nowFn func() time.Time) *KV {
	if nowFn != nil {
		kv.nowFn = nowFn
	}
	return kv
}

func (kv *KV) now() time.Time {
	return kv.nowFn().UTC()
}

// Put stores value under key. A ttl of zero or less means no expiry.
func (kv *KV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	now := kv.now()
	var expiresAt any
	if ttl > 0 {
		expiresAt = now.Add(ttl).Format(time.RFC3339Nano)
	}
	_, err := kv.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, string(value), expiresAt, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key, or ErrKeyNotFound if the key is
// missing or its TTL has elapsed.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	var expiresAt sql.NullString
	err := kv.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if kv.expired(expiresAt) {
		_, _ = kv.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, ErrKeyNotFound
	}
	return []byte(value), nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (kv *KV) Delete(ctx context.Context, key string) error {
	if _, err := kv.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Prefix returns all live values whose key starts with prefix, newest first.
func (kv *KV) Prefix(ctx context.Context, prefix string, limit int) ([][]byte, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := kv.db.QueryContext(ctx, `
		SELECT value, expires_at FROM kv
		WHERE key LIKE ? ESCAPE '\'
		ORDER BY created_at DESC
		LIMIT ?
	`, escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("scan prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var value string
		var expiresAt sql.NullString
		if err := rows.Scan(&value, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan kv row: %w", err)
		}
		if kv.expired(expiresAt) {
			continue
		}
		out = append(out, []byte(value))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv rows: %w", err)
	}
	return out, nil
}

// PurgeExpired deletes all expired entries and reports how many were removed.
func (kv *KV) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := kv.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, kv.now().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

func (kv *KV) expired(expiresAt sql.NullString) bool {
	if !expiresAt.Valid || expiresAt.String == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
	if err != nil {
		return false
	}
	return !kv.now().Before(t)
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
