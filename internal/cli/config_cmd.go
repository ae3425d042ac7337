package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soyeahso/daogate/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// secretKeys are config leaves printed masked unless --reveal is given.
var secretKeys = map[string]bool{
	"apiKey":      true,
	"token":       true,
	"password":    true,
	"accessKey":   true,
	"secretKey":   true,
	"postgresDsn": true,
}

const masked = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and edit daogate.yaml",
	}

	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigUnsetCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a value, e.g. oracle.model or session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}
			val, ok := config.GetValueAtPath(raw, path)
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			if !reveal {
				val = maskSecrets(path[len(path)-1], val)
			}
			return writeValue(cmd.OutOrStdout(), val)
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print credentials unmasked")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value; the result must still validate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}
			value := parseValue(args[1])
			err = editConfig(cmd.OutOrStdout(), force, func(raw map[string]any) error {
				config.SetValueAtPath(raw, path, value)
				return nil
			})
			if err != nil {
				return err
			}
			if secretKeys[path[len(path)-1]] {
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "save even if the result has validation issues")
	return cmd
}

func newConfigUnsetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a value so its default applies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}
			err = editConfig(cmd.OutOrStdout(), force, func(raw map[string]any) error {
				if !config.UnsetValueAtPath(raw, path) {
					return fmt.Errorf("key %q not found", args[0])
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "save even if the result has validation issues")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file, with DAOGATE_* overrides applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if issues := config.Validate(&cfg); len(issues) > 0 {
				writeIssues(cmd.OutOrStdout(), issues)
				return fmt.Errorf("%d validation issue(s)", len(issues))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Config OK")
			return nil
		},
	}
}

// editConfig applies edit to the raw file and saves it if the outcome
// validates. force saves regardless and only reports the issues.
func editConfig(out io.Writer, force bool, edit func(raw map[string]any) error) error {
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return err
	}
	if err := edit(raw); err != nil {
		return err
	}

	cfg, err := config.FromRaw(raw)
	if err != nil {
		return err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		writeIssues(out, issues)
		if !force {
			return fmt.Errorf("not saved: %d validation issue(s), use --force to save anyway", len(issues))
		}
	}
	return config.SaveRaw(paths.Config, raw)
}

func writeIssues(out io.Writer, issues []config.ValidationIssue) {
	for _, issue := range issues {
		fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
	}
}

// maskSecrets hides credential leaves in v. key is the name v was found under.
func maskSecrets(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = maskSecrets(k, child)
		}
		return out
	case string:
		if secretKeys[key] && val != "" && !strings.HasPrefix(val, "${") {
			return masked
		}
	}
	return v
}

// writeValue prints scalars bare and sections as YAML.
func writeValue(out io.Writer, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	default:
		_, err := fmt.Fprintln(out, v)
		return err
	}
}

// parseValue types a command-line value: booleans, integers and floats are
// stored as such, anything else as a string.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
