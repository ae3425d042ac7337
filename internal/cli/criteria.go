package cli

import (
	"github.com/samber/do/v2"
	"github.com/soyeahso/daogate/internal/agent"
	"github.com/soyeahso/daogate/internal/config"
	"github.com/soyeahso/daogate/internal/llm"
	"github.com/spf13/cobra"
)

func newCriteriaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "criteria",
		Short: "Work with DAO eligibility criteria",
	}
	cmd.AddCommand(newCriteriaSuggestCmd())
	return cmd
}

func newCriteriaSuggestCmd() *cobra.Command {
	var daoName, token string

	cmd := &cobra.Command{
		Use:   "suggest <description>",
		Short: "Derive criteria from a free-text DAO description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInjector(func(i do.Injector) error {
				oracle, err := do.Invoke[llm.Client](i)
				if err != nil {
					return err
				}
				cfg := do.MustInvoke[*config.Config](i)
				ctx := cmd.Context()
				crit, err := agent.SuggestCriteria(ctx, oracle, engineConfig(cfg), agent.SuggestRequest{
					Prompt:      args[0],
					DAOName:     daoName,
					TokenSymbol: token,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"criteria": crit})
			})
		},
	}

	cmd.Flags().StringVar(&daoName, "dao", "", "DAO name")
	cmd.Flags().StringVar(&token, "token", "", "DAO token symbol")
	return cmd
}
