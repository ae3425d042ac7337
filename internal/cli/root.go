// Package cli implements the daogate command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/samber/do/v2"
	"github.com/soyeahso/daogate/internal/config"
	"github.com/soyeahso/daogate/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// set by PersistentPreRunE
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daogate",
		Short: "daogate evaluates DAO membership applicants through an LLM conversation",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := loadDotenv(".env", filepath.Join(paths.Base, ".env")); err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.daogate/daogate.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newCriteriaCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadDotenv loads each existing file. Variables already set win.
func loadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// loadConfig reads and validates the config file and rebuilds the logger
// from its logging section. --log-level still wins.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return nil, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log = logging.NewWithStyle(cfg.Logging.ConsoleStyle, level)
	return &cfg, nil
}

// withInjector loads config, builds the component graph, runs fn and shuts
// the graph down.
func withInjector(fn func(i do.Injector) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	injector := newInjector(cfg, paths, log)
	defer injector.Shutdown()
	return fn(injector)
}
