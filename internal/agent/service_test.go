package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/evidence"
	"github.com/soyeahso/daogate/internal/hooks"
	"github.com/soyeahso/daogate/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc    *Service
	store  *MemorySessionStore
	oracle *llm.MockClient
	hooks  *hooks.Manager
}

func newServiceFixture(t *testing.T, cfg ServiceConfig, replies ...string) *serviceFixture {
	t.Helper()
	var mu sync.Mutex
	oracle := &llm.MockClient{ProviderName: "mock", CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return &llm.CompletionResponse{Content: `{"message":"go on"}`}, nil
		}
		r := replies[0]
		replies = replies[1:]
		return &llm.CompletionResponse{Content: r}, nil
	}}

	gh := &stubFetcher{kind: domain.AccountGitHub, payload: `{"repos":7}`}
	hm := hooks.NewManager(silentLog())
	engine := NewEngine(EngineConfig{Model: "mock"}, oracle, evidence.NewSet(gh), hm, silentLog())
	store := NewMemorySessionStore()
	return &serviceFixture{
		svc:    NewService(cfg, engine, store, nil, hm, silentLog()),
		store:  store,
		oracle: oracle,
		hooks:  hm,
	}
}

func firstTurn() EvaluateRequest {
	return EvaluateRequest{
		Message:     "hi",
		DAOName:     "Test DAO",
		TokenSymbol: "TST",
		Criteria:    []domain.Criterion{{Title: "A", Description: "d", Icon: "generic"}},
	}
}

func TestServiceEvaluate_NewSession(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{}, `{"message":"Welcome, let's begin."}`)

	var created []string
	f.hooks.On(hooks.EventSessionCreated, "test", func(_ context.Context, p hooks.Payload) error {
		created = append(created, p.SessionID)
		return nil
	})

	out, err := f.svc.Evaluate(context.Background(), firstTurn())
	require.NoError(t, err)

	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, domain.StatusInProgress, out.Status)
	assert.Equal(t, "Welcome, let's begin.", out.Message)
	assert.Equal(t, []string{out.SessionID}, created)

	stored, err := f.svc.Get(context.Background(), out.SessionID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 4)
	assert.Equal(t, domain.RoleSystem, stored.Messages[0].Role)
	assert.Equal(t, domain.RoleSystem, stored.Messages[1].Role)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "hi", Timestamp: stored.Messages[2].Timestamp}, stored.Messages[2])
	assert.False(t, stored.Criteria[0].Verified)
}

func TestServiceEvaluate_FollowUpWithConnection(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	out, err := f.svc.Evaluate(context.Background(), firstTurn())
	require.NoError(t, err)

	_, err = f.svc.Evaluate(context.Background(), EvaluateRequest{
		ChatID:     out.SessionID,
		Message:    "I connected GitHub",
		Connection: &Connection{Kind: domain.AccountGitHub, Connected: true, Credential: "alice"},
	})
	require.NoError(t, err)

	stored, err := f.store.Load(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.ConnectedAccounts[domain.AccountGitHub])
	require.Len(t, stored.Messages, 7)
	assert.Contains(t, stored.Messages[4].Content, "GitHub Activity Summary")
	assert.Equal(t, "I connected GitHub", stored.Messages[5].Content)
}

func TestServiceEvaluate_ConnectionOnNewSessionIgnored(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	req := firstTurn()
	req.Connection = &Connection{Kind: domain.AccountGitHub, Connected: true, Credential: "alice"}

	out, err := f.svc.Evaluate(context.Background(), req)
	require.NoError(t, err)

	stored, err := f.store.Load(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Empty(t, stored.ConnectedAccounts)
	assert.Len(t, stored.Messages, 4)
}

func TestServiceEvaluate_UnknownChatPolicy(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		f := newServiceFixture(t, ServiceConfig{UnknownChat: UnknownChatCreate})
		req := firstTurn()
		req.ChatID = "gone"
		out, err := f.svc.Evaluate(context.Background(), req)
		require.NoError(t, err)
		assert.NotEqual(t, "gone", out.SessionID)
	})

	t.Run("reject", func(t *testing.T) {
		f := newServiceFixture(t, ServiceConfig{UnknownChat: UnknownChatReject})
		req := firstTurn()
		req.ChatID = "gone"
		_, err := f.svc.Evaluate(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		assert.Empty(t, f.oracle.Requests())
	})
}

func TestServiceEvaluate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EvaluateRequest)
	}{
		{"empty message", func(r *EvaluateRequest) { r.Message = "" }},
		{"no dao name", func(r *EvaluateRequest) { r.DAOName = " " }},
		{"no token", func(r *EvaluateRequest) { r.TokenSymbol = "" }},
		{"no criteria", func(r *EvaluateRequest) { r.Criteria = nil }},
		{"untitled criterion", func(r *EvaluateRequest) { r.Criteria = []domain.Criterion{{Description: "d"}} }},
		{"unknown account", func(r *EvaluateRequest) {
			r.ChatID = "x"
			r.Connection = &Connection{Kind: "discord", Connected: true}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, ServiceConfig{})
			req := firstTurn()
			tt.mutate(&req)
			_, err := f.svc.Evaluate(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			ids, _ := f.store.List(context.Background())
			assert.Empty(t, ids)
			assert.Empty(t, f.oracle.Requests())
		})
	}
}

func TestServiceEvaluate_AcceptedIsTerminal(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{}, `{"message":"start"}`, `{"message":"Welcome!","mint":true}`)

	var mu sync.Mutex
	var accepted []hooks.Payload
	f.hooks.On(hooks.EventSessionAccepted, "test", func(_ context.Context, p hooks.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		accepted = append(accepted, p)
		return nil
	})

	out, err := f.svc.Evaluate(context.Background(), firstTurn())
	require.NoError(t, err)
	id := out.SessionID

	out, err = f.svc.Evaluate(context.Background(), EvaluateRequest{ChatID: id, Message: "all done"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, out.Status)
	assert.Equal(t, "Congratulations! You have been accepted into the DAO. 🎉", out.Message)

	_, err = f.svc.Evaluate(context.Background(), EvaluateRequest{ChatID: id, Message: "hello again"})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Len(t, f.oracle.Requests(), 2)

	f.hooks.Wait()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, accepted, 1)
	assert.Equal(t, id, accepted[0].SessionID)
	require.NotNil(t, accepted[0].Session)
	assert.Equal(t, domain.StatusAccepted, accepted[0].Session.Status)
}

func TestServiceEvaluate_OracleFailureDoesNotPersist(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{}, `{"message":"start"}`, `<html>502</html>`)

	out, err := f.svc.Evaluate(context.Background(), firstTurn())
	require.NoError(t, err)

	_, err = f.svc.Evaluate(context.Background(), EvaluateRequest{ChatID: out.SessionID, Message: "next"})
	assert.ErrorIs(t, err, ErrMalformedDecision)

	stored, err := f.store.Load(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 4)
	assert.Equal(t, domain.StatusInProgress, stored.Status)
}

type failingStore struct{ *MemorySessionStore }

func (failingStore) Save(context.Context, *domain.Session) error { return errors.New("disk full") }

func TestServiceEvaluate_SaveFailure(t *testing.T) {
	engine := NewEngine(EngineConfig{}, llm.Replying(`{"message":"ok"}`), nil, nil, silentLog())
	svc := NewService(ServiceConfig{}, engine, failingStore{NewMemorySessionStore()}, nil, nil, silentLog())

	_, err := svc.Evaluate(context.Background(), firstTurn())
	assert.ErrorContains(t, err, "disk full")
}

func TestServiceEvaluate_SameSessionTurnsSerialise(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	out, err := f.svc.Evaluate(context.Background(), firstTurn())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Evaluate(context.Background(), EvaluateRequest{ChatID: out.SessionID, Message: "ping"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.store.Load(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 4+8*2, "no turn lost to a concurrent save")
}

// --- KeyedMutex ---

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlock, err := k.Lock(ctx, "a")
	require.NoError(t, err)

	other, err := k.Lock(ctx, "b")
	require.NoError(t, err, "different ids do not block")
	other()

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(timeout, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, k.held())

	again, err := k.Lock(ctx, "a")
	require.NoError(t, err)
	again()
}

// --- MemorySessionStore ---

func TestMemorySessionStore(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	sess := &domain.Session{ID: "b", Status: domain.StatusInProgress, ConnectedAccounts: map[domain.AccountKind]bool{}}
	require.NoError(t, s.Save(ctx, sess))
	require.NoError(t, s.Save(ctx, &domain.Session{ID: "a"}))

	sess.Status = domain.StatusRejected
	loaded, err := s.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, loaded.Status, "store keeps its own copy")

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
