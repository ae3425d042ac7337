package agent

import (
	"fmt"
	"strings"

	"github.com/soyeahso/daogate/internal/domain"
)

// evaluationInstructions is the first system entry of every session. It is
// replayed to the evaluator on every turn.
const evaluationInstructions = `You evaluate membership applications for a DAO. Your job is to:

1. Verify EACH eligibility criterion in order, one at a time
2. Ask the applicant to connect an account (GitHub, Twitter, wallet) when a criterion needs it as evidence
3. Keep track of which criteria are verified and which are still pending
4. Decide only after ALL criteria have been checked

Rules:
- Open by explaining how the evaluation works, then start with the first criterion
- For each criterion:
  1. Say which criterion you are evaluating
  2. Request the matching account connection if one is needed
  3. When a connection arrives, confirm the username or address you received
  4. Use the activity summary supplied for that account to decide whether the criterion is met
  5. Confirm the outcome before moving on
- Do not move to the next criterion until the current one is settled
- Base the decision ONLY on verified criteria
- Every reply either asks the applicant for something or delivers the final decision

When a connection arrives, acknowledge the exact account (for example "I see you've connected your GitHub account: alice").
To accept, confirm that ALL criteria are met and set "mint" to true.
To reject, list the criteria that were not met.

Keep the "message" field professional, encouraging and clear.`

// responseFormatInstruction is sent as the request-level system instruction so
// the reply shape is fixed even if the transcript drifts.
const responseFormatInstruction = `Respond with a single JSON object and nothing else:
{
  "message": "text shown to the applicant",
  "toolCalls": [{"type": "connection_request", "account_type": "github" | "twitter" | "wallet"}],
  "mint": false,
  "decision": "pending" | "accepted" | "rejected",
  "verified": ["titles of criteria verified so far"]
}
"message" is required. "toolCalls" is optional and only lists account connections you need next.
Set "mint" to true ONLY when every criterion is verified and met.
"decision" and "verified" are optional.`

// BuildBriefing renders the DAO briefing, the second system entry of a session.
func BuildBriefing(daoName, tokenSymbol string, criteria []domain.Criterion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DAO Name: %s\nToken Symbol: %s\n\nCriteria:\n", daoName, tokenSymbol)
	for i, c := range criteria {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s: %s", c.Title, c.Description)
	}
	return b.String()
}

// connectionNotice is the user entry synthesized for a connection event that
// carried no applicant text.
func connectionNotice(kind domain.AccountKind, credential string) string {
	if credential == "" {
		return fmt.Sprintf("I have connected my %s account.", kind.DisplayName())
	}
	return fmt.Sprintf("I have connected my %s account: %s", kind.DisplayName(), credential)
}
