package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/soyeahso/daogate/internal/domain"
	"golang.org/x/oauth2"
)

// ConnectorConfig describes the connector service that proxies GitHub,
// Twitter and Etherscan lookups.
type ConnectorConfig struct {
	BaseURL string
	Token   string // optional bearer token
	ChainID int
	Timeout time.Duration
}

// ConnectorFetcher POSTs a credential to one connector endpoint.
type ConnectorFetcher struct {
	kind    domain.AccountKind
	url     string
	chainID int
	client  *http.Client
}

// NewConnectorFetchers returns one fetcher per account kind, sharing an HTTP client.
func NewConnectorFetchers(cfg ConnectorConfig) []Fetcher {
	client := newHTTPClient(cfg.Token, cfg.Timeout)
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = 1
	}

	return []Fetcher{
		&ConnectorFetcher{kind: domain.AccountGitHub, url: base + "/github", client: client},
		&ConnectorFetcher{kind: domain.AccountTwitter, url: base + "/twitter", client: client},
		&ConnectorFetcher{kind: domain.AccountWallet, url: base + "/etherscan", chainID: chainID, client: client},
	}
}

func newHTTPClient(token string, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if token == "" {
		return &http.Client{Timeout: timeout}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := oauth2.NewClient(context.Background(), ts)
	client.Timeout = timeout
	return client
}

// Kind returns the account kind this fetcher serves.
func (f *ConnectorFetcher) Kind() domain.AccountKind { return f.kind }

// Fetch posts the credential and returns the connector's JSON payload.
func (f *ConnectorFetcher) Fetch(ctx context.Context, credential string) (json.RawMessage, error) {
	body, err := f.requestBody(credential)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s connector: %w", f.kind, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s connector: reading response: %w", f.kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s connector: status %d", f.kind, resp.StatusCode)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s connector: response is not JSON", f.kind)
	}
	return json.RawMessage(data), nil
}

func (f *ConnectorFetcher) requestBody(credential string) (map[string]any, error) {
	cred, err := NormalizeCredential(f.kind, credential)
	if err != nil {
		return nil, err
	}
	if f.kind == domain.AccountWallet {
		return map[string]any{"wallet_address": cred, "chain_id": f.chainID}, nil
	}
	return map[string]any{"username": cred}, nil
}

// NormalizeCredential trims a credential and canonicalises it for its kind.
// Wallet addresses are validated and returned in EIP-55 checksum form.
func NormalizeCredential(kind domain.AccountKind, credential string) (string, error) {
	cred := strings.TrimSpace(credential)
	switch kind {
	case domain.AccountWallet:
		if !common.IsHexAddress(cred) {
			return "", fmt.Errorf("invalid wallet address %q", credential)
		}
		return common.HexToAddress(cred).Hex(), nil
	case domain.AccountTwitter:
		cred = strings.TrimPrefix(cred, "@")
	}
	if cred == "" {
		return "", fmt.Errorf("empty %s credential", kind)
	}
	return cred, nil
}
