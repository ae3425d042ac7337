package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/daogate/internal/domain"
)

// Verdict is the evaluator's optional structured decision.
type Verdict string

const (
	VerdictNone     Verdict = ""
	VerdictPending  Verdict = "pending"
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// Decision is a validated evaluator reply.
type Decision struct {
	Message   string
	ToolCalls []domain.ToolCall // actionable entries only
	Mint      bool
	Verdict   Verdict
	Verified  []string
	Dropped   int // well-formed tool calls filtered out as not actionable
}

// ParseDecision validates raw evaluator output against the response contract.
// Any deviation wraps ErrMalformedDecision. Tool calls that are objects but
// not actionable connection requests are dropped rather than rejected.
func ParseDecision(raw string) (*Decision, error) {
	body := stripFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, malformed("response is not a JSON object: %v", err)
	}
	if fields == nil {
		return nil, malformed("response is not a JSON object")
	}

	d := &Decision{}

	msg, ok := fields["message"]
	if !ok || isNull(msg) {
		return nil, malformed("missing message")
	}
	if err := json.Unmarshal(msg, &d.Message); err != nil {
		return nil, malformed("message must be a string")
	}
	if strings.TrimSpace(d.Message) == "" {
		return nil, malformed("message is empty")
	}

	if v, ok := fields["mint"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &d.Mint); err != nil {
			return nil, malformed("mint must be a boolean")
		}
	}

	if v, ok := fields["toolCalls"]; ok && !isNull(v) {
		var entries []json.RawMessage
		if err := json.Unmarshal(v, &entries); err != nil {
			return nil, malformed("toolCalls must be an array")
		}
		for i, e := range entries {
			var obj map[string]any
			if err := json.Unmarshal(e, &obj); err != nil || obj == nil {
				return nil, malformed("toolCalls[%d] must be an object", i)
			}
			typ, _ := obj["type"].(string)
			acct, _ := obj["account_type"].(string)
			tc := domain.ToolCall{Type: typ, AccountType: domain.AccountKind(acct)}
			if !tc.Actionable() {
				d.Dropped++
				continue
			}
			d.ToolCalls = append(d.ToolCalls, tc)
		}
	}

	if v, ok := fields["decision"]; ok && !isNull(v) {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, malformed("decision must be a string")
		}
		switch Verdict(s) {
		case VerdictPending, VerdictAccepted, VerdictRejected:
			d.Verdict = Verdict(s)
		default:
			return nil, malformed("unknown decision %q", s)
		}
	}

	if v, ok := fields["verified"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &d.Verified); err != nil {
			return nil, malformed("verified must be an array of strings")
		}
	}

	if d.Mint && d.Verdict == VerdictRejected {
		return nil, malformed("mint is true but decision is rejected")
	}
	return d, nil
}

// Status returns the session status implied by the decision, starting from
// current. Mint wins, then the structured verdict, then the phrasing heuristic.
func (d *Decision) Status(current domain.Status) domain.Status {
	if d.Mint || d.Verdict == VerdictAccepted {
		return domain.StatusAccepted
	}
	switch d.Verdict {
	case VerdictRejected:
		return domain.StatusRejected
	case VerdictPending:
		return current
	}
	if readsAsRejection(d.Message) {
		return domain.StatusRejected
	}
	return current
}

// readsAsRejection is the fallback used when no structured verdict is given.
func readsAsRejection(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "unfortunately") && strings.Contains(m, "reject")
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	return strings.TrimSpace(s)
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedDecision, fmt.Sprintf(format, args...))
}
