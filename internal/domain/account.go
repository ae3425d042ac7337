package domain

import (
	"fmt"
	"strings"
)

// AccountKind names a third-party account an applicant can connect.
type AccountKind string

const (
	AccountGitHub  AccountKind = "github"
	AccountTwitter AccountKind = "twitter"
	AccountWallet  AccountKind = "wallet"
)

// AccountKinds lists the known kinds in display order.
var AccountKinds = []AccountKind{AccountGitHub, AccountTwitter, AccountWallet}

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountGitHub, AccountTwitter, AccountWallet:
		return true
	}
	return false
}

// DisplayName returns the human-readable name of the account kind.
func (k AccountKind) DisplayName() string {
	switch k {
	case AccountGitHub:
		return "GitHub"
	case AccountTwitter:
		return "Twitter"
	case AccountWallet:
		return "wallet"
	}
	return string(k)
}

// ParseAccountKind converts a string to an AccountKind, ignoring case.
func ParseAccountKind(s string) (AccountKind, error) {
	k := AccountKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown account type %q", s)
	}
	return k, nil
}

// ToolCallConnectionRequest is the only tool call type surfaced to callers.
const ToolCallConnectionRequest = "connection_request"

// ToolCall is a structured directive emitted by the evaluator.
type ToolCall struct {
	Type        string      `json:"type"`
	AccountType AccountKind `json:"account_type"`
}

// Actionable reports whether the tool call is a connection request for a known account.
func (tc ToolCall) Actionable() bool {
	return tc.Type == ToolCallConnectionRequest && tc.AccountType.Valid()
}

// Criterion is one eligibility requirement tracked per session.
type Criterion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Verified    bool   `json:"verified"`
}

// Criterion icon categories.
const (
	IconGitHub  = "github"
	IconTwitter = "twitter"
	IconWallet  = "wallet"
	IconGeneric = "generic"
)

// NormalizeIcon maps unknown icon tags to IconGeneric.
func NormalizeIcon(icon string) string {
	switch s := strings.ToLower(strings.TrimSpace(icon)); s {
	case IconGitHub, IconTwitter, IconWallet, IconGeneric:
		return s
	}
	return IconGeneric
}
