package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultAcceptanceMessage replaces the evaluator's reply when an applicant is accepted.
const DefaultAcceptanceMessage = "Congratulations! You have been accepted into the DAO. 🎉"

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18790
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}
	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "openai"
	}
	if cfg.Oracle.Model == "" {
		cfg.Oracle.Model = defaultModel(cfg.Oracle.Provider)
	}
	if cfg.Oracle.Temperature == nil {
		t := 0.7
		cfg.Oracle.Temperature = &t
	}
	if cfg.Oracle.TimeoutSeconds == 0 {
		cfg.Oracle.TimeoutSeconds = 120
	}
	if cfg.Evidence.ConnectorURL == "" {
		cfg.Evidence.ConnectorURL = "http://localhost:8001"
	}
	if cfg.Evidence.ChainID == 0 {
		cfg.Evidence.ChainID = 1
	}
	if cfg.Evidence.TimeoutSeconds == 0 {
		cfg.Evidence.TimeoutSeconds = 30
	}
	if cfg.Evidence.CacheSize == 0 {
		cfg.Evidence.CacheSize = 256
	}
	if cfg.Evidence.CacheTTLSeconds == 0 {
		cfg.Evidence.CacheTTLSeconds = 600
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "sqlite"
	}
	if cfg.Session.UnknownChat == "" {
		cfg.Session.UnknownChat = "create"
	}
	if cfg.Session.Redis.KeyPrefix == "" {
		cfg.Session.Redis.KeyPrefix = "daogate:session:"
	}
	if cfg.Evaluation.AcceptanceMessage == "" {
		cfg.Evaluation.AcceptanceMessage = DefaultAcceptanceMessage
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "sessions/"
	}
	if cfg.Webhook.TimeoutSeconds == 0 {
		cfg.Webhook.TimeoutSeconds = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "gemini":
		return "gemini-2.0-flash"
	case "ollama":
		return "llama3.1"
	case "mock":
		return "mock"
	default:
		return "gpt-4-turbo-preview"
	}
}
