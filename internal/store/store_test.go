package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soyeahso/daogate/internal/agent"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ agent.SessionStore = (*SQLiteSessionStore)(nil)
	_ agent.SessionStore = (*PostgresSessionStore)(nil)
	_ agent.SessionStore = (*RedisSessionStore)(nil)
	_ agent.SessionStore = (*FileSessionStore)(nil)
	_ agent.Locker       = (*RedisLocker)(nil)
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleSession(id string) *domain.Session {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 789000000, time.UTC)
	return &domain.Session{
		ID:                id,
		Status:            domain.StatusInProgress,
		ConnectedAccounts: map[domain.AccountKind]bool{},
		Criteria:          []domain.Criterion{{Title: "Open Source", Description: "d", Icon: "github"}},
		DAOName:           "Test DAO",
		TokenSymbol:       "TST",
		CreatedAt:         ts,
		UpdatedAt:         ts,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "instructions", Timestamp: ts},
			{Role: domain.RoleSystem, Content: "briefing", Timestamp: ts},
			{Role: domain.RoleUser, Content: "hi", Timestamp: ts},
		},
	}
}

// exerciseSessionStore runs the behaviour every backend must share.
func exerciseSessionStore(t *testing.T, s agent.SessionStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	sess := sampleSession("s-1")
	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Test DAO", got.DAOName)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "hi", got.Messages[2].Content)
	assert.True(t, sess.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, sess.Messages[0].Timestamp.Equal(got.Messages[0].Timestamp))
	assert.NotNil(t, got.ConnectedAccounts)

	// a turn appends two entries and flips state
	got.ConnectedAccounts[domain.AccountGitHub] = true
	got.Criteria[0].Verified = true
	got.Status = domain.StatusAccepted
	got.Append(domain.Message{Role: domain.RoleUser, Content: "done", Timestamp: got.UpdatedAt})
	got.Append(domain.Message{
		Role:      domain.RoleAssistant,
		Content:   "Congratulations!",
		Timestamp: got.UpdatedAt,
		ToolCalls: []domain.ToolCall{{Type: domain.ToolCallConnectionRequest, AccountType: domain.AccountWallet}},
	})
	require.NoError(t, s.Save(ctx, got))

	again, err := s.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, again.Status)
	assert.True(t, again.ConnectedAccounts[domain.AccountGitHub])
	assert.True(t, again.Criteria[0].Verified)
	require.Len(t, again.Messages, 5)
	assert.Equal(t, []domain.ToolCall{{Type: "connection_request", AccountType: domain.AccountWallet}}, again.Messages[4].ToolCalls)

	// truncating a stored transcript is refused
	short := again.Clone()
	short.Messages = short.Messages[:2]
	assert.Error(t, s.Save(ctx, short))

	require.NoError(t, s.Save(ctx, sampleSession("s-2")))
	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s-1", "s-2"}, ids)
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db.SQL())
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	db, err := Open(path, silentLog())
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate(context.Background()))

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"sessions", "messages", "messages_fts"} {
		var name string
		err := db.sql.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

// --- Backends ---

func TestSQLiteSessionStore(t *testing.T) {
	exerciseSessionStore(t, NewSQLiteSessionStore(testDB(t)))
}

func TestSQLiteSessionStore_AppendsOnlyNewRows(t *testing.T) {
	db := testDB(t)
	s := NewSQLiteSessionStore(db)
	ctx := context.Background()

	sess := sampleSession("s-1")
	require.NoError(t, s.Save(ctx, sess))
	require.NoError(t, s.Save(ctx, sess))

	var rows int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM messages WHERE session_id = 's-1'").Scan(&rows))
	assert.Equal(t, 3, rows)
}

func TestSQLiteSessionStore_Search(t *testing.T) {
	s := NewSQLiteSessionStore(testDB(t))
	ctx := context.Background()

	sess := sampleSession("s-1")
	sess.Append(domain.Message{Role: domain.RoleSystem, Content: "GitHub Activity Summary: 42 repositories", Timestamp: sess.UpdatedAt})
	sess.Append(domain.Message{Role: domain.RoleAssistant, Content: "Your repositories look great", Timestamp: sess.UpdatedAt})
	require.NoError(t, s.Save(ctx, sess))

	hits, err := s.Search(ctx, "repositories", "", 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "s-1", h.SessionID)
		assert.Contains(t, h.Snippet, "[repositories]")
	}

	hits, err = s.Search(ctx, "repositories", domain.RoleAssistant, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 4, hits[0].Seq)

	hits, err = s.Search(ctx, "gitlab", "", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFileSessionStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "chats.json")
	exerciseSessionStore(t, NewFileSessionStore(path))

	// a fresh store reads the same document back
	reopened := NewFileSessionStore(path)
	got, err := reopened.Load(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 5)
}

func TestFileSessionStore_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileSessionStore(path).Load(context.Background(), "x")
	assert.ErrorContains(t, err, "parsing")
}

// External backends run only when a server is supplied.

func TestPostgresSessionStore(t *testing.T) {
	dsn := os.Getenv("DAOGATE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DAOGATE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn, silentLog())
	require.NoError(t, err)
	defer s.Close()
	_, err = s.pool.Exec(ctx, `TRUNCATE daogate_sessions CASCADE`)
	require.NoError(t, err)

	exerciseSessionStore(t, s)
}

func TestRedisSessionStoreAndLocker(t *testing.T) {
	url := os.Getenv("DAOGATE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DAOGATE_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	prefix := "daogate-test:" + time.Now().Format("150405.000") + ":"
	exerciseSessionStore(t, NewRedisSessionStore(client, prefix, time.Minute))

	locker := NewRedisLocker(client, prefix+"lock:", time.Second)
	unlock, err := locker.Lock(ctx, "s-1")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "s-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := locker.Lock(ctx, "s-1")
	require.NoError(t, err)
	unlock2()
}
