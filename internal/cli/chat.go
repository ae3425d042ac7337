package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/soyeahso/daogate/internal/agent"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		daoName  string
		token    string
		chatID   string
		criteria []string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an evaluation conversation in the terminal",
		Long: `Run an evaluation conversation in the terminal.

Each line is sent as one applicant turn. "/connect <github|twitter|wallet> [credential]"
reports an account connection with the next line, "/quit" ends the conversation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			crit, err := parseCriteria(criteria)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withInjector(func(i do.Injector) error {
				svc, err := do.Invoke[*agent.Service](i)
				if err != nil {
					return err
				}
				s := &chatSession{
					svc:     svc,
					in:      cmd.InOrStdin(),
					out:     cmd.OutOrStdout(),
					chatID:  chatID,
					daoName: daoName,
					token:   token,
					crit:    crit,
				}
				return s.run(ctx)
			})
		},
	}

	cmd.Flags().StringVar(&daoName, "dao", "", "DAO name")
	cmd.Flags().StringVar(&token, "token", "", "DAO token symbol")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "resume an existing session")
	cmd.Flags().StringArrayVar(&criteria, "criterion", nil, `criterion as "Title: description" (repeatable)`)
	return cmd
}

// parseCriteria turns "Title: description" flags into criteria.
func parseCriteria(raw []string) ([]domain.Criterion, error) {
	out := make([]domain.Criterion, 0, len(raw))
	for _, r := range raw {
		title, desc, ok := strings.Cut(r, ":")
		title = strings.TrimSpace(title)
		if !ok || title == "" {
			return nil, fmt.Errorf("criterion %q: expected \"Title: description\"", r)
		}
		out = append(out, domain.Criterion{
			Title:       title,
			Description: strings.TrimSpace(desc),
			Icon:        domain.IconGeneric,
		})
	}
	return out, nil
}

type chatSession struct {
	svc *agent.Service
	in  io.Reader
	out io.Writer

	chatID  string
	daoName string
	token   string
	crit    []domain.Criterion

	pending *agent.Connection
}

func (c *chatSession) run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	c.prompt()
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/connect"):
			if err := c.connect(strings.Fields(line)[1:]); err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		default:
			done, err := c.send(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			if done {
				return nil
			}
		}
		c.prompt()
	}
	return scanner.Err()
}

func (c *chatSession) prompt() {
	fmt.Fprint(c.out, "> ")
}

func (c *chatSession) connect(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /connect <github|twitter|wallet> [credential]")
	}
	kind, err := domain.ParseAccountKind(args[0])
	if err != nil {
		return err
	}
	conn := &agent.Connection{Kind: kind, Connected: true}
	if len(args) > 1 {
		conn.Credential = args[1]
	}
	c.pending = conn
	fmt.Fprintf(c.out, "%s connection will be sent with your next message\n", kind.DisplayName())
	return nil
}

// send runs one turn and reports whether the session reached a decision.
func (c *chatSession) send(ctx context.Context, msg string) (bool, error) {
	req := agent.EvaluateRequest{
		Message:    msg,
		ChatID:     c.chatID,
		Connection: c.pending,
	}
	if c.chatID == "" {
		req.DAOName = c.daoName
		req.TokenSymbol = c.token
		req.Criteria = c.crit
	}

	out, err := c.svc.Evaluate(ctx, req)
	if err != nil {
		return false, err
	}
	c.pending = nil
	c.chatID = out.SessionID

	fmt.Fprintf(c.out, "\n%s\n\n", out.Message)
	for _, tc := range out.ToolCalls {
		if tc.Actionable() {
			fmt.Fprintf(c.out, "[requested: connect %s, use /connect %s <credential>]\n", tc.AccountType.DisplayName(), tc.AccountType)
		}
	}
	if out.Status.Terminal() {
		fmt.Fprintf(c.out, "[%s] session %s\n", out.Status, out.SessionID)
		return true, nil
	}
	return false, nil
}
