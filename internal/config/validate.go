package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

func oneOf(issues []ValidationIssue, path, value string, valid []string) []ValidationIssue {
	if value != "" && !slices.Contains(valid, value) {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("must be one of %v, got %q", valid, value),
		})
	}
	return issues
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}
	issues = oneOf(issues, "gateway.bind", cfg.Gateway.Bind, []string{"auto", "lan", "loopback", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{Path: "gateway.customBindHost", Message: "required when bind is custom"})
	}
	issues = oneOf(issues, "gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"none", "token", "password"})
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{Path: "gateway.tls", Message: "certPath and keyPath are required when TLS is enabled"})
	}

	// Oracle
	issues = oneOf(issues, "oracle.provider", cfg.Oracle.Provider, []string{"openai", "gemini", "ollama", "mock"})
	if cfg.Oracle.Model == "" {
		issues = append(issues, ValidationIssue{Path: "oracle.model", Message: "model is required"})
	}
	if t := cfg.Oracle.Temperature; t != nil && (*t < 0 || *t > 2) {
		issues = append(issues, ValidationIssue{
			Path:    "oracle.temperature",
			Message: fmt.Sprintf("must be between 0 and 2, got %v", *t),
		})
	}
	if cfg.Oracle.MaxTokens < 0 {
		issues = append(issues, ValidationIssue{Path: "oracle.maxTokens", Message: "must not be negative"})
	}

	// Evidence
	if u, err := url.Parse(cfg.Evidence.ConnectorURL); cfg.Evidence.ConnectorURL != "" && (err != nil || u.Scheme == "" || u.Host == "") {
		issues = append(issues, ValidationIssue{
			Path:    "evidence.connectorUrl",
			Message: fmt.Sprintf("must be an absolute URL, got %q", cfg.Evidence.ConnectorURL),
		})
	}
	if cfg.Evidence.CacheSize < 0 {
		issues = append(issues, ValidationIssue{Path: "evidence.cacheSize", Message: "must not be negative"})
	}

	// Session
	issues = oneOf(issues, "session.store", cfg.Session.Store, []string{"sqlite", "postgres", "redis", "file", "memory"})
	issues = oneOf(issues, "session.unknownChat", cfg.Session.UnknownChat, []string{"create", "reject"})
	if cfg.Session.Store == "postgres" && cfg.Session.PostgresDSN == "" {
		issues = append(issues, ValidationIssue{Path: "session.postgresDsn", Message: "required when store is postgres"})
	}
	if cfg.Session.Store == "redis" && cfg.Session.Redis.URL == "" {
		issues = append(issues, ValidationIssue{Path: "session.redis.url", Message: "required when store is redis"})
	}
	if cfg.Session.Redis.TTLSeconds < 0 {
		issues = append(issues, ValidationIssue{Path: "session.redis.ttlSeconds", Message: "must not be negative"})
	}

	// Archive
	if cfg.Archive.Enabled {
		if cfg.Archive.Endpoint == "" {
			issues = append(issues, ValidationIssue{Path: "archive.endpoint", Message: "required when archive is enabled"})
		}
		if cfg.Archive.Bucket == "" {
			issues = append(issues, ValidationIssue{Path: "archive.bucket", Message: "required when archive is enabled"})
		}
	}

	// Logging
	issues = oneOf(issues, "logging.level", cfg.Logging.Level,
		[]string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	issues = oneOf(issues, "logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	return issues
}
