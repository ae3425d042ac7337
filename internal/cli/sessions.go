package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/samber/do/v2"
	"github.com/soyeahso/daogate/internal/agent"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored evaluation sessions",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsSearchCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInjector(func(i do.Injector) error {
				svc, err := do.Invoke[*agent.Service](i)
				if err != nil {
					return err
				}
				return listSessions(cmd.Context(), cmd.OutOrStdout(), svc)
			})
		},
	}
}

func listSessions(ctx context.Context, out io.Writer, svc *agent.Service) error {
	ids, err := svc.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "(no sessions)")
		return nil
	}
	for _, id := range ids {
		sess, err := svc.Get(ctx, id)
		if err != nil {
			fmt.Fprintf(out, "  %s  (error: %v)\n", id, err)
			continue
		}
		fmt.Fprintf(out, "  %s  %-8s %-20s msgs=%d updated=%s\n",
			id, sess.Status, sess.DAOName, len(sess.Messages), sess.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInjector(func(i do.Injector) error {
				svc, err := do.Invoke[*agent.Service](i)
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				sess, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sess)
			})
		},
	}
}

func newSessionsSearchCmd() *cobra.Command {
	var (
		role  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over transcripts (sqlite store only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "" {
				switch domain.Role(role) {
				case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
				default:
					return fmt.Errorf("unknown role %q", role)
				}
			}
			return withInjector(func(i do.Injector) error {
				backend, err := do.Invoke[*sessionBackend](i)
				if err != nil {
					return err
				}
				if backend.search == nil {
					return fmt.Errorf("search requires the sqlite session store")
				}
				ctx := cmd.Context()
				hits, err := backend.search.Search(ctx, args[0], domain.Role(role), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(hits) == 0 {
					fmt.Fprintln(out, "(no matches)")
					return nil
				}
				for _, h := range hits {
					fmt.Fprintf(out, "  %s #%d [%s] %s\n", h.SessionID, h.Seq, h.Role, h.Snippet)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "only match messages from this role (user, assistant, system)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of matches")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
