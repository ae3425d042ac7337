package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so secrets can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Oracle.APIKey = expandEnvVars(cfg.Oracle.APIKey)
	cfg.Evidence.Token = expandEnvVars(cfg.Evidence.Token)
	cfg.Session.PostgresDSN = expandEnvVars(cfg.Session.PostgresDSN)
	cfg.Session.Redis.URL = expandEnvVars(cfg.Session.Redis.URL)
	cfg.Archive.AccessKey = expandEnvVars(cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = expandEnvVars(cfg.Archive.SecretKey)
	cfg.Webhook.URL = expandEnvVars(cfg.Webhook.URL)
}

// envOverrides lists the DAOGATE_* variables that override file values.
// Unset variables leave the pointer nil so file values survive.
type envOverrides struct {
	Port         *int    `env:"PORT"`
	Bind         *string `env:"BIND"`
	AuthToken    *string `env:"AUTH_TOKEN"`
	Provider     *string `env:"ORACLE_PROVIDER"`
	APIKey       *string `env:"ORACLE_API_KEY"`
	Model        *string `env:"ORACLE_MODEL"`
	Endpoint     *string `env:"ORACLE_ENDPOINT"`
	ConnectorURL *string `env:"CONNECTOR_URL"`
	Store        *string `env:"STORE"`
	UnknownChat  *string `env:"UNKNOWN_CHAT"`
	PostgresDSN  *string `env:"DATABASE_URL"`
	RedisURL     *string `env:"REDIS_URL"`
	WebhookURL   *string `env:"WEBHOOK_URL"`
	LogLevel     *string `env:"LOG_LEVEL"`
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Defaults(), err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	expandSensitiveFields(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// applyEnvOverrides reads DAOGATE_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: "DAOGATE_"}); err != nil {
		return &ConfigError{Message: "invalid environment override: " + err.Error()}
	}

	setString := func(dst *string, v *string) {
		if v != nil && *v != "" {
			*dst = *v
		}
	}
	if o.Port != nil {
		cfg.Gateway.Port = *o.Port
	}
	setString(&cfg.Gateway.Bind, o.Bind)
	setString(&cfg.Gateway.Auth.Token, o.AuthToken)
	setString(&cfg.Oracle.Provider, o.Provider)
	setString(&cfg.Oracle.APIKey, o.APIKey)
	setString(&cfg.Oracle.Model, o.Model)
	setString(&cfg.Oracle.Endpoint, o.Endpoint)
	setString(&cfg.Evidence.ConnectorURL, o.ConnectorURL)
	setString(&cfg.Session.Store, o.Store)
	setString(&cfg.Session.UnknownChat, o.UnknownChat)
	setString(&cfg.Session.PostgresDSN, o.PostgresDSN)
	setString(&cfg.Session.Redis.URL, o.RedisURL)
	setString(&cfg.Webhook.URL, o.WebhookURL)
	if o.LogLevel != nil && *o.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(*o.LogLevel)
	}
	return nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// FromRaw decodes a raw config map the way Load decodes the file, without
// environment overrides. It lets edits be validated before they are saved.
func FromRaw(raw map[string]any) (Config, error) {
	var cfg Config
	data, err := yaml.Marshal(raw)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "invalid config: " + err.Error()}
	}
	expandSensitiveFields(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
