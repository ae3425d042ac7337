package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/logging"
)

const postgresInitTimeout = 15 * time.Second

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS daogate_sessions (
		id                  TEXT PRIMARY KEY,
		status              TEXT NOT NULL,
		dao_name            TEXT NOT NULL DEFAULT '',
		token_symbol        TEXT NOT NULL DEFAULT '',
		connected_accounts  JSONB NOT NULL DEFAULT '{}',
		criteria            JSONB NOT NULL DEFAULT '[]',
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daogate_messages (
		session_id  TEXT NOT NULL REFERENCES daogate_sessions(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		ts          TIMESTAMPTZ NOT NULL,
		tool_calls  JSONB,
		PRIMARY KEY (session_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_daogate_sessions_updated ON daogate_sessions (updated_at DESC)`,
}

// PostgresSessionStore implements agent.SessionStore on a pgx pool.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// OpenPostgres connects to dsn, pings it and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, log *logging.Logger) (*PostgresSessionStore, error) {
	ctx, cancel := context.WithTimeout(ctx, postgresInitTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return NewPostgresSessionStore(pool, log), nil
}

// NewPostgresSessionStore wraps an existing pool. The schema must exist.
func NewPostgresSessionStore(pool *pgxpool.Pool, log *logging.Logger) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool, log: log.Sub("store.postgres")}
}

// Close releases the pool.
func (s *PostgresSessionStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresSessionStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	var (
		sess     domain.Session
		status   string
		accounts []byte
		criteria []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, dao_name, token_symbol, connected_accounts, criteria, created_at, updated_at
		 FROM daogate_sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &status, &sess.DAOName, &sess.TokenSymbol, &accounts, &criteria, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	sess.Status = domain.Status(status)
	if err := json.Unmarshal(accounts, &sess.ConnectedAccounts); err != nil {
		return nil, fmt.Errorf("decoding connected accounts for %s: %w", id, err)
	}
	if sess.ConnectedAccounts == nil {
		sess.ConnectedAccounts = make(map[domain.AccountKind]bool)
	}
	if err := json.Unmarshal(criteria, &sess.Criteria); err != nil {
		return nil, fmt.Errorf("decoding criteria for %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, ts, tool_calls FROM daogate_messages
		 WHERE session_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", id, err)
	}
	defer rows.Close()

	sess.Messages = []domain.Message{}
	for rows.Next() {
		var (
			m         domain.Message
			role      string
			toolCalls []byte
		)
		if err := rows.Scan(&role, &m.Content, &m.Timestamp, &toolCalls); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls for %s: %w", id, err)
			}
		}
		sess.Messages = append(sess.Messages, m)
	}
	return &sess, rows.Err()
}

// Save upserts the session and appends unseen messages in one transaction.
func (s *PostgresSessionStore) Save(ctx context.Context, sess *domain.Session) error {
	accounts, err := json.Marshal(sess.ConnectedAccounts)
	if err != nil {
		return err
	}
	criteria := []byte("[]")
	if sess.Criteria != nil {
		if criteria, err = json.Marshal(sess.Criteria); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", sess.ID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO daogate_sessions (id, status, dao_name, token_symbol, connected_accounts, criteria, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   connected_accounts = EXCLUDED.connected_accounts,
		   criteria = EXCLUDED.criteria,
		   updated_at = EXCLUDED.updated_at`,
		sess.ID, string(sess.Status), sess.DAOName, sess.TokenSymbol, accounts, criteria, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}

	var stored int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM daogate_messages WHERE session_id = $1`, sess.ID).Scan(&stored); err != nil {
		return fmt.Errorf("counting messages for %s: %w", sess.ID, err)
	}
	if stored > len(sess.Messages) {
		return fmt.Errorf("session %s: transcript has %d messages but %d are stored", sess.ID, len(sess.Messages), stored)
	}

	batch := &pgx.Batch{}
	for i := stored; i < len(sess.Messages); i++ {
		m := sess.Messages[i]
		var toolCalls []byte
		if len(m.ToolCalls) > 0 {
			if toolCalls, err = json.Marshal(m.ToolCalls); err != nil {
				return err
			}
		}
		batch.Queue(
			`INSERT INTO daogate_messages (session_id, seq, role, content, ts, tool_calls)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sess.ID, i, string(m.Role), m.Content, m.Timestamp, toolCalls)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("appending messages to %s: %w", sess.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save %s: %w", sess.ID, err)
	}
	s.log.Debug().Str("sessionId", sess.ID).Int("appended", len(sess.Messages)-stored).Msg("session saved")
	return nil
}

func (s *PostgresSessionStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM daogate_sessions ORDER BY updated_at DESC, id`)
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
