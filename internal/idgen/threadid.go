package idgen

import (
	"database/sql"
	"fmt"
)

// ThreadID generates a human-readable conversation thread ID like
// "thread-1", "festival-2". It queries the database for the highest existing
// sequence number with the given prefix and returns prefix-(max+1).
func ThreadID(db *sql.DB, prefix string) string {
	if prefix == "" {
		prefix = "thread"
	}
	var maxN sql.NullInt64
	// SUBSTR offset is 1-based: skip prefix + dash
	offset := len(prefix) + 2
	err := db.QueryRow(
		`SELECT MAX(CAST(SUBSTR(id, ?) AS INTEGER)) FROM threads WHERE id LIKE ?`,
		offset, prefix+"-%",
	).Scan(&maxN)
	if err != nil || !maxN.Valid {
		return fmt.Sprintf("%s-%d", prefix, 1)
	}
	return fmt.Sprintf("%s-%d", prefix, maxN.Int64+1)
}
