package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/do/v2"
	"github.com/soyeahso/daogate/internal/config"
	"github.com/soyeahso/daogate/internal/evidence"
	"github.com/soyeahso/daogate/internal/llm"
	"github.com/soyeahso/daogate/internal/sink"
	"github.com/soyeahso/daogate/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daogate status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "daogate %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(out, "Config:   not found (using defaults)")
				} else {
					fmt.Fprintf(out, "Config:   error loading: %v\n", err)
				}
				return nil
			}

			fmt.Fprintf(out, "Gateway:  port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)
			fmt.Fprintf(out, "Oracle:   provider=%s model=%s\n", cfg.Oracle.Provider, cfg.Oracle.Model)
			fmt.Fprintf(out, "Evidence: connector=%s cache=%d\n", cfg.Evidence.ConnectorURL, cfg.Evidence.CacheSize)
			fmt.Fprintf(out, "Session:  store=%s unknown-chat=%s\n", cfg.Session.Store, cfg.Session.UnknownChat)

			if cfg.Archive.Enabled {
				fmt.Fprintf(out, "Archive:  endpoint=%s bucket=%s\n", cfg.Archive.Endpoint, cfg.Archive.Bucket)
			} else {
				fmt.Fprintln(out, "Archive:  (disabled)")
			}
			if cfg.Webhook.URL != "" {
				fmt.Fprintf(out, "Webhook:  %s\n", cfg.Webhook.URL)
			} else {
				fmt.Fprintln(out, "Webhook:  (not configured)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
				return nil
			}

			injector := newInjector(&cfg, paths, log)
			defer injector.Shutdown()
			fmt.Fprintln(out)
			writeComponents(out, injector)
			return nil
		},
	}

	return cmd
}

// writeComponents reports what the wiring resolves to without opening the
// session store.
func writeComponents(out io.Writer, i do.Injector) {
	if reg, err := do.Invoke[*llm.Registry](i); err != nil {
		fmt.Fprintf(out, "Providers: error: %v\n", err)
	} else {
		fmt.Fprintf(out, "Providers: %s\n", joinOrNone(reg.List()))
	}

	if set, err := do.Invoke[*evidence.Set](i); err != nil {
		fmt.Fprintf(out, "Kinds:     error: %v\n", err)
	} else {
		kinds := make([]string, 0, len(set.Kinds()))
		for _, k := range set.Kinds() {
			kinds = append(kinds, string(k))
		}
		fmt.Fprintf(out, "Kinds:     %s\n", joinOrNone(kinds))
	}

	sinks, err := do.Invoke[*sink.Registry](i)
	if err != nil {
		fmt.Fprintf(out, "Sinks:     error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Sinks:     %s\n", joinOrNone(sinks.List()))

	hm := sinks.Hooks()
	events := hm.Events()
	parts := make([]string, 0, len(events))
	for _, e := range events {
		parts = append(parts, fmt.Sprintf("%s(%d)", e, hm.Count(e)))
	}
	fmt.Fprintf(out, "Hooks:     %s\n", joinOrNone(parts))
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
