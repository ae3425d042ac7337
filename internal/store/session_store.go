package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/daogate/internal/domain"
)

// SQLiteSessionStore implements agent.SessionStore backed by SQLite.
// Messages are stored one row each and only ever inserted.
type SQLiteSessionStore struct {
	db *DB
}

// NewSQLiteSessionStore creates a session store using the given database.
func NewSQLiteSessionStore(db *DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

// Load returns a session with its full transcript.
func (s *SQLiteSessionStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	var (
		sess                 domain.Session
		status               string
		accounts, criteria   string
		createdAt, updatedAt string
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, status, dao_name, token_symbol, connected_accounts, criteria, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &status, &sess.DAOName, &sess.TokenSymbol, &accounts, &criteria, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	sess.Status = domain.Status(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(accounts), &sess.ConnectedAccounts); err != nil {
		return nil, fmt.Errorf("decoding connected accounts for %s: %w", id, err)
	}
	if sess.ConnectedAccounts == nil {
		sess.ConnectedAccounts = make(map[domain.AccountKind]bool)
	}
	if err := json.Unmarshal([]byte(criteria), &sess.Criteria); err != nil {
		return nil, fmt.Errorf("decoding criteria for %s: %w", id, err)
	}

	sess.Messages, err = s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Save upserts the session row and inserts messages not yet stored, in one
// transaction. A transcript shorter than what is stored is rejected.
func (s *SQLiteSessionStore) Save(ctx context.Context, sess *domain.Session) error {
	accounts, err := json.Marshal(sess.ConnectedAccounts)
	if err != nil {
		return err
	}
	criteria, err := json.Marshal(sess.Criteria)
	if err != nil {
		return err
	}
	if sess.Criteria == nil {
		criteria = []byte("[]")
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", sess.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, status, dao_name, token_symbol, connected_accounts, criteria, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   connected_accounts = excluded.connected_accounts,
		   criteria = excluded.criteria,
		   updated_at = excluded.updated_at`,
		sess.ID, string(sess.Status), sess.DAOName, sess.TokenSymbol, string(accounts), string(criteria),
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sess.ID).Scan(&stored); err != nil {
		return fmt.Errorf("counting messages for %s: %w", sess.ID, err)
	}
	if stored > len(sess.Messages) {
		return fmt.Errorf("session %s: transcript has %d messages but %d are stored", sess.ID, len(sess.Messages), stored)
	}

	for i := stored; i < len(sess.Messages); i++ {
		m := sess.Messages[i]
		var toolCalls sql.NullString
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return err
			}
			toolCalls = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, role, content, timestamp, tool_calls)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sess.ID, i, string(m.Role), m.Content, formatTime(m.Timestamp), toolCalls,
		); err != nil {
			return fmt.Errorf("appending message %d to %s: %w", i, sess.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", sess.ID, err)
	}
	s.db.log.Debug().Str("sessionId", sess.ID).Int("appended", len(sess.Messages)-stored).Msg("session saved")
	return nil
}

// List returns all session ids, most recently updated first.
func (s *SQLiteSessionStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT id FROM sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteSessionStore) loadMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT role, content, timestamp, tool_calls
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			msg       domain.Message
			role, ts  string
			toolCalls sql.NullString
		)
		if err := rows.Scan(&role, &msg.Content, &ts, &toolCalls); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		msg.Timestamp = parseTime(ts)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls for %s: %w", sessionID, err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
