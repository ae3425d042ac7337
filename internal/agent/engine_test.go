package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/evidence"
	"github.com/soyeahso/daogate/internal/hooks"
	"github.com/soyeahso/daogate/internal/llm"
	"github.com/soyeahso/daogate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

type stubFetcher struct {
	kind    domain.AccountKind
	payload string
	err     error
	got     []string
}

func (f *stubFetcher) Kind() domain.AccountKind { return f.kind }

func (f *stubFetcher) Fetch(_ context.Context, credential string) (json.RawMessage, error) {
	f.got = append(f.got, credential)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.payload), nil
}

func testCriteria() []domain.Criterion {
	return []domain.Criterion{
		{Title: "Open Source", Description: "Active GitHub contributor", Icon: "github"},
		{Title: "Holder", Description: "Holds TST", Icon: "coins"},
	}
}

func testEngine(oracle llm.Client, fetchers ...evidence.Fetcher) *Engine {
	e := NewEngine(EngineConfig{Model: "gpt-4-turbo-preview"}, oracle, evidence.NewSet(fetchers...), nil, silentLog())
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestEngineNewSession(t *testing.T) {
	e := testEngine(llm.Replying(`{"message":"hi"}`))
	sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

	assert.Equal(t, domain.StatusInProgress, sess.Status)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, domain.RoleSystem, sess.Messages[0].Role)
	assert.Equal(t, evaluationInstructions, sess.Messages[0].Content)
	assert.Equal(t, "DAO Name: Test DAO\nToken Symbol: TST\n\nCriteria:\n- Open Source: Active GitHub contributor\n- Holder: Holds TST",
		sess.Messages[1].Content)
	assert.Equal(t, domain.IconGeneric, sess.Criteria[1].Icon)
	assert.NotNil(t, sess.ConnectedAccounts)
}

func TestEngineAdvanceFreeText(t *testing.T) {
	oracle := llm.Replying(`{"message":"Let's start with Open Source.","toolCalls":[{"type":"connection_request","account_type":"github"}]}`)
	e := testEngine(oracle)
	sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

	next, out, err := e.Advance(context.Background(), sess, Turn{Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "Let's start with Open Source.", out.Message)
	assert.Equal(t, "s-1", out.SessionID)
	assert.Equal(t, domain.StatusInProgress, out.Status)
	assert.Equal(t, []domain.ToolCall{{Type: "connection_request", AccountType: domain.AccountGitHub}}, out.ToolCalls)

	require.Len(t, next.Messages, 4)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "hi", Timestamp: e.now()}, next.Messages[2])
	assert.Equal(t, domain.RoleAssistant, next.Messages[3].Role)
	assert.Equal(t, out.ToolCalls, next.Messages[3].ToolCalls)
	assert.Len(t, sess.Messages, 2, "input session is not mutated")

	reqs := oracle.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSONMode)
	assert.Equal(t, responseFormatInstruction, reqs[0].System)
	assert.Equal(t, "gpt-4-turbo-preview", reqs[0].Model)
	require.Len(t, reqs[0].Messages, 3)
	assert.Equal(t, llm.Message{Role: "user", Content: "hi"}, reqs[0].Messages[2])
}

func TestEngineAdvanceMintOverridesMessage(t *testing.T) {
	e := testEngine(llm.Replying(`{"message":"Welcome!","mint":true,"verified":["open source"," Holder "]}`))
	sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

	next, out, err := e.Advance(context.Background(), sess, Turn{Text: "done"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAccepted, out.Status)
	assert.Equal(t, "Congratulations! You have been accepted into the DAO. 🎉", out.Message)
	assert.Equal(t, out.Message, next.Messages[len(next.Messages)-1].Content)
	assert.True(t, next.Criteria[0].Verified)
	assert.True(t, next.Criteria[1].Verified)
}

func TestEngineAdvanceHeuristicRejection(t *testing.T) {
	msg := "Unfortunately, you do not meet our criteria and we must reject your application."
	e := testEngine(llm.Replying(`{"message":"` + msg + `"}`))
	sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

	_, out, err := e.Advance(context.Background(), sess, Turn{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, out.Status)
	assert.Equal(t, msg, out.Message)
}

func TestEngineAdvanceConnectionWithEvidence(t *testing.T) {
	gh := &stubFetcher{kind: domain.AccountGitHub, payload: `{"repos":3}`}
	oracle := llm.Replying(`{"message":"I see you've connected your GitHub account: alice"}`)
	e := testEngine(oracle, gh)
	sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

	next, _, err := e.Advance(context.Background(), sess, Turn{
		Connection: &Connection{Kind: domain.AccountGitHub, Connected: true, Credential: "alice"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, gh.got)
	assert.True(t, next.ConnectedAccounts[domain.AccountGitHub])
	require.Len(t, next.Messages, 5)
	assert.Equal(t, domain.RoleSystem, next.Messages[2].Role)
	assert.Equal(t, "GitHub Activity Summary:\n {\n  \"repos\": 3\n}", next.Messages[2].Content)
	assert.Equal(t, domain.RoleUser, next.Messages[3].Role)
	assert.Equal(t, "I have connected my GitHub account: alice", next.Messages[3].Content)
}

func TestEngineAdvanceConnectionFetchFailure(t *testing.T) {
	tw := &stubFetcher{kind: domain.AccountTwitter, err: errors.New("connector down")}
	hm := hooks.NewManager(silentLog())
	var failed []hooks.Payload
	hm.On(hooks.EventEvidenceFailed, "test", func(_ context.Context, p hooks.Payload) error {
		failed = append(failed, p)
		return nil
	})

	e := NewEngine(EngineConfig{}, llm.Replying(`{"message":"Thanks"}`), evidence.NewSet(tw), hm, silentLog())
	sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

	next, out, err := e.Advance(context.Background(), sess, Turn{
		Text:       "connected my twitter",
		Connection: &Connection{Kind: domain.AccountTwitter, Connected: true, Credential: "bob"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Thanks", out.Message)
	assert.True(t, next.ConnectedAccounts[domain.AccountTwitter])
	require.Len(t, next.Messages, 4, "no evidence entry")
	assert.Equal(t, "connected my twitter", next.Messages[2].Content)
	require.Len(t, failed, 1)
	assert.Equal(t, "twitter", failed[0].Data["kind"])
}

func TestEngineAdvanceConnectionWithoutCredential(t *testing.T) {
	wallet := &stubFetcher{kind: domain.AccountWallet, payload: `{}`}
	e := testEngine(llm.Replying(`{"message":"ok"}`), wallet)
	sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

	next, _, err := e.Advance(context.Background(), sess, Turn{
		Connection: &Connection{Kind: domain.AccountWallet, Connected: true},
	})
	require.NoError(t, err)
	assert.Empty(t, wallet.got)
	assert.Equal(t, "I have connected my wallet account.", next.Messages[2].Content)
}

func TestEngineAdvanceFailuresLeaveSessionUntouched(t *testing.T) {
	tests := []struct {
		name   string
		oracle *llm.MockClient
		want   error
	}{
		{
			"transport",
			&llm.MockClient{ProviderName: "mock", CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
				return nil, &llm.ProviderError{Provider: "openai", Message: "timeout", Code: 504}
			}},
			ErrOracleUnavailable,
		},
		{"malformed", llm.Replying(`not json at all`), ErrMalformedDecision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEngine(tt.oracle)
			sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

			next, out, err := e.Advance(context.Background(), sess, Turn{Text: "hi"})
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, next)
			assert.Nil(t, out)
			assert.Len(t, sess.Messages, 2)
			assert.Equal(t, domain.StatusInProgress, sess.Status)
		})
	}
}

func TestEngineAdvanceTransportKeepsProviderError(t *testing.T) {
	oracle := &llm.MockClient{ProviderName: "mock", CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "openai", Message: "rate limited", Code: 429}
	}}
	e := testEngine(oracle)

	_, _, err := e.Advance(context.Background(), e.NewSession("s-1", "D", "T", testCriteria()), Turn{Text: "hi"})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.Code)
}

func TestEngineAdvanceRefusesTerminalAndEmpty(t *testing.T) {
	oracle := llm.Replying(`{"message":"ok"}`)
	e := testEngine(oracle)
	sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

	_, _, err := e.Advance(context.Background(), sess, Turn{Text: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	sess.Status = domain.StatusRejected
	_, _, err = e.Advance(context.Background(), sess, Turn{Text: "please reconsider"})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Empty(t, oracle.Requests())
}

func TestEngineVerifiedIsMonotonic(t *testing.T) {
	replies := []string{
		`{"message":"Open Source verified","verified":["Open Source"]}`,
		`{"message":"Now the wallet","verified":[]}`,
	}
	var call int
	oracle := &llm.MockClient{ProviderName: "mock", CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		r := replies[call]
		call++
		return &llm.CompletionResponse{Content: r}, nil
	}}
	e := testEngine(oracle)
	sess := e.NewSession("s-1", "Test DAO", "TST", testCriteria())

	sess, _, err := e.Advance(context.Background(), sess, Turn{Text: "hi"})
	require.NoError(t, err)
	sess, _, err = e.Advance(context.Background(), sess, Turn{Text: "next"})
	require.NoError(t, err)

	assert.True(t, sess.Criteria[0].Verified)
	assert.False(t, sess.Criteria[1].Verified)
	assert.Len(t, sess.Messages, 6)
}

func TestBuildBriefing(t *testing.T) {
	got := BuildBriefing("Dev DAO", "DEV", []domain.Criterion{{Title: "A", Description: "d"}})
	assert.Equal(t, "DAO Name: Dev DAO\nToken Symbol: DEV\n\nCriteria:\n- A: d", got)
	assert.True(t, strings.Contains(responseFormatInstruction, `"connection_request"`))
}
