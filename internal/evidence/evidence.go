// Package evidence gathers third-party account activity for applicants.
//
// Fetchers are best effort. The conversation engine treats any error as
// "no evidence" and carries on with the turn.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/soyeahso/daogate/internal/domain"
)

// Fetcher retrieves an activity summary for one account kind.
type Fetcher interface {
	Kind() domain.AccountKind
	Fetch(ctx context.Context, credential string) (json.RawMessage, error)
}

// Label returns the heading used when evidence is injected into a transcript.
func Label(kind domain.AccountKind) string {
	switch kind {
	case domain.AccountGitHub:
		return "GitHub Activity Summary"
	case domain.AccountTwitter:
		return "Twitter Activity Summary"
	case domain.AccountWallet:
		return "Etherscan Wallet Summary"
	}
	return string(kind) + " Activity Summary"
}

// Set maps account kinds to their fetchers.
type Set struct {
	fetchers map[domain.AccountKind]Fetcher
}

// NewSet builds a Set. A later fetcher for the same kind replaces an earlier one.
func NewSet(fetchers ...Fetcher) *Set {
	s := &Set{fetchers: make(map[domain.AccountKind]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		s.fetchers[f.Kind()] = f
	}
	return s
}

// Fetch runs the fetcher registered for kind.
func (s *Set) Fetch(ctx context.Context, kind domain.AccountKind, credential string) (json.RawMessage, error) {
	if s == nil {
		return nil, fmt.Errorf("no evidence fetchers configured")
	}
	f, ok := s.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("no evidence fetcher for %q", kind)
	}
	return f.Fetch(ctx, credential)
}

// Kinds returns the kinds that have a fetcher, in display order.
func (s *Set) Kinds() []domain.AccountKind {
	var kinds []domain.AccountKind
	for _, k := range domain.AccountKinds {
		if _, ok := s.fetchers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
