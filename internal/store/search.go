package store

import (
	"context"
	"fmt"

	"github.com/soyeahso/daogate/internal/domain"
)

// MessageHit is a transcript entry matched by Search.
type MessageHit struct {
	SessionID string      `json:"sessionId"`
	Seq       int         `json:"seq"`
	Role      domain.Role `json:"role"`
	Snippet   string      `json:"snippet"`
	Rank      float64     `json:"rank"` // FTS5 rank, lower is better
}

// Search finds transcript entries matching an FTS5 query, best matches first.
// role filters by author when non-empty. Limit of 0 defaults to 20.
func (s *SQLiteSessionStore) Search(ctx context.Context, query string, role domain.Role, limit int) ([]MessageHit, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT m.session_id, m.seq, m.role,
		        snippet(messages_fts, 0, '[', ']', '...', 12), rank
		 FROM messages_fts
		 JOIN messages m ON m.id = messages_fts.rowid
		 WHERE messages_fts MATCH ?
		   AND (? = '' OR m.role = ?)
		 ORDER BY rank
		 LIMIT ?`,
		query, string(role), string(role), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching transcripts: %w", err)
	}
	defer rows.Close()

	var hits []MessageHit
	for rows.Next() {
		var h MessageHit
		var r string
		if err := rows.Scan(&h.SessionID, &h.Seq, &r, &h.Snippet, &h.Rank); err != nil {
			return nil, err
		}
		h.Role = domain.Role(r)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
