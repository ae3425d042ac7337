package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/daogate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Path string
	Auth string
	Body map[string]any
}

func connectorServer(t *testing.T, status int, reply string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(body, &decoded)
		reqs = append(reqs, recordedRequest{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: decoded})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func fetcherFor(t *testing.T, fetchers []Fetcher, kind domain.AccountKind) Fetcher {
	t.Helper()
	for _, f := range fetchers {
		if f.Kind() == kind {
			return f
		}
	}
	t.Fatalf("no fetcher for %s", kind)
	return nil
}

func TestConnectorFetcher_GitHub(t *testing.T) {
	srv, reqs := connectorServer(t, http.StatusOK, `{"repos":12,"stars":40}`)
	fetchers := NewConnectorFetchers(ConnectorConfig{BaseURL: srv.URL + "/"})

	payload, err := fetcherFor(t, fetchers, domain.AccountGitHub).Fetch(context.Background(), " alice ")
	require.NoError(t, err)
	assert.JSONEq(t, `{"repos":12,"stars":40}`, string(payload))

	require.Len(t, *reqs, 1)
	assert.Equal(t, "/github", (*reqs)[0].Path)
	assert.Equal(t, map[string]any{"username": "alice"}, (*reqs)[0].Body)
	assert.Empty(t, (*reqs)[0].Auth)
}

func TestConnectorFetcher_TwitterStripsAt(t *testing.T) {
	srv, reqs := connectorServer(t, http.StatusOK, `"no tweets"`)
	fetchers := NewConnectorFetchers(ConnectorConfig{BaseURL: srv.URL, Token: "conn-token"})

	_, err := fetcherFor(t, fetchers, domain.AccountTwitter).Fetch(context.Background(), "@bob")
	require.NoError(t, err)

	require.Len(t, *reqs, 1)
	assert.Equal(t, "/twitter", (*reqs)[0].Path)
	assert.Equal(t, "bob", (*reqs)[0].Body["username"])
	assert.Equal(t, "Bearer conn-token", (*reqs)[0].Auth)
}

func TestConnectorFetcher_WalletChecksums(t *testing.T) {
	srv, reqs := connectorServer(t, http.StatusOK, `{"balance":"1.5"}`)
	fetchers := NewConnectorFetchers(ConnectorConfig{BaseURL: srv.URL, ChainID: 137})

	_, err := fetcherFor(t, fetchers, domain.AccountWallet).Fetch(context.Background(),
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)

	require.Len(t, *reqs, 1)
	assert.Equal(t, "/etherscan", (*reqs)[0].Path)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", (*reqs)[0].Body["wallet_address"])
	assert.Equal(t, float64(137), (*reqs)[0].Body["chain_id"])
}

func TestConnectorFetcher_InvalidWalletNeverCalls(t *testing.T) {
	srv, reqs := connectorServer(t, http.StatusOK, `{}`)
	fetchers := NewConnectorFetchers(ConnectorConfig{BaseURL: srv.URL})

	_, err := fetcherFor(t, fetchers, domain.AccountWallet).Fetch(context.Background(), "not-an-address")
	assert.ErrorContains(t, err, "invalid wallet address")
	assert.Empty(t, *reqs)
}

func TestConnectorFetcher_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		want   string
	}{
		{"server error", http.StatusBadGateway, `{"detail":"boom"}`, "status 502"},
		{"not json", http.StatusOK, `<html>`, "not JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := connectorServer(t, tt.status, tt.reply)
			fetchers := NewConnectorFetchers(ConnectorConfig{BaseURL: srv.URL})
			_, err := fetcherFor(t, fetchers, domain.AccountGitHub).Fetch(context.Background(), "alice")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNormalizeCredential(t *testing.T) {
	_, err := NormalizeCredential(domain.AccountGitHub, "   ")
	assert.Error(t, err)

	got, err := NormalizeCredential(domain.AccountTwitter, " @carol ")
	require.NoError(t, err)
	assert.Equal(t, "carol", got)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "GitHub Activity Summary", Label(domain.AccountGitHub))
	assert.Equal(t, "Twitter Activity Summary", Label(domain.AccountTwitter))
	assert.Equal(t, "Etherscan Wallet Summary", Label(domain.AccountWallet))
}

// --- Set tests ---

type stubFetcher struct {
	kind    domain.AccountKind
	payload string
	err     error
	calls   atomic.Int32
}

func (s *stubFetcher) Kind() domain.AccountKind { return s.kind }

func (s *stubFetcher) Fetch(_ context.Context, _ string) (json.RawMessage, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.payload), nil
}

func TestSet(t *testing.T) {
	set := NewSet(&stubFetcher{kind: domain.AccountWallet, payload: `1`}, &stubFetcher{kind: domain.AccountGitHub, payload: `2`})
	assert.Equal(t, []domain.AccountKind{domain.AccountGitHub, domain.AccountWallet}, set.Kinds())

	payload, err := set.Fetch(context.Background(), domain.AccountGitHub, "alice")
	require.NoError(t, err)
	assert.Equal(t, "2", string(payload))

	_, err = set.Fetch(context.Background(), domain.AccountTwitter, "bob")
	assert.ErrorContains(t, err, "no evidence fetcher")

	var nilSet *Set
	_, err = nilSet.Fetch(context.Background(), domain.AccountGitHub, "alice")
	assert.Error(t, err)
}

// --- Cache tests ---

func TestCachedFetcher_HitsAndExpiry(t *testing.T) {
	inner := &stubFetcher{kind: domain.AccountGitHub, payload: `{"repos":1}`}
	cf, err := NewCachedFetcher(inner, 8, time.Minute)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cf.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := cf.Fetch(context.Background(), "Alice")
		require.NoError(t, err)
	}
	_, err = cf.Fetch(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load(), "credential lookups are case-insensitive")

	now = now.Add(2 * time.Minute)
	_, err = cf.Fetch(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load(), "stale entries are refetched")
	assert.Equal(t, domain.AccountGitHub, cf.Kind())
}

func TestCachedFetcher_DoesNotCacheErrors(t *testing.T) {
	inner := &stubFetcher{kind: domain.AccountTwitter, err: errors.New("down")}
	fetchers, err := Cached([]Fetcher{inner}, 0, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := fetchers[0].Fetch(context.Background(), "bob")
		assert.Error(t, err)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}
