package config

// Config is the root configuration for daogate.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway,omitempty"`
	Oracle     OracleConfig     `yaml:"oracle,omitempty"`
	Evidence   EvidenceConfig   `yaml:"evidence,omitempty"`
	Session    SessionConfig    `yaml:"session,omitempty"`
	Evaluation EvaluationConfig `yaml:"evaluation,omitempty"`
	Archive    ArchiveConfig    `yaml:"archive,omitempty"`
	Webhook    WebhookConfig    `yaml:"webhook,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth protects the admin endpoints and the WebSocket RPC.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "none" | "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// OracleConfig selects the LLM provider that evaluates applicants.
type OracleConfig struct {
	Provider       string   `yaml:"provider,omitempty"` // "openai" | "gemini" | "ollama" | "mock"
	APIKey         string   `yaml:"apiKey,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	Endpoint       string   `yaml:"endpoint,omitempty"`
	MaxTokens      int      `yaml:"maxTokens,omitempty"`
	Temperature    *float64 `yaml:"temperature,omitempty"`
	TimeoutSeconds int      `yaml:"timeoutSeconds,omitempty"`
}

// EvidenceConfig points at the connector service that gathers account activity.
type EvidenceConfig struct {
	ConnectorURL    string `yaml:"connectorUrl,omitempty"`
	Token           string `yaml:"token,omitempty"`
	ChainID         int    `yaml:"chainId,omitempty"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds,omitempty"`
	CacheSize       int    `yaml:"cacheSize,omitempty"`
	CacheTTLSeconds int    `yaml:"cacheTtlSeconds,omitempty"`
}

// SessionConfig selects the session backend and the unknown-chat policy.
type SessionConfig struct {
	Store       string      `yaml:"store,omitempty"`       // "sqlite" | "postgres" | "redis" | "file" | "memory"
	UnknownChat string      `yaml:"unknownChat,omitempty"` // "create" | "reject"
	SQLitePath  string      `yaml:"sqlitePath,omitempty"`
	FilePath    string      `yaml:"filePath,omitempty"`
	PostgresDSN string      `yaml:"postgresDsn,omitempty"`
	Redis       RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis session backend.
type RedisConfig struct {
	URL        string `yaml:"url,omitempty"`
	KeyPrefix  string `yaml:"keyPrefix,omitempty"`
	TTLSeconds int    `yaml:"ttlSeconds,omitempty"` // 0 keeps sessions indefinitely
}

// EvaluationConfig tunes the conversation engine.
type EvaluationConfig struct {
	AcceptanceMessage string `yaml:"acceptanceMessage,omitempty"`
}

// ArchiveConfig configures transcript archiving to S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"accessKey,omitempty"`
	SecretKey string `yaml:"secretKey,omitempty"`
	UseSSL    bool   `yaml:"useSSL,omitempty"`
}

// WebhookConfig configures decision notifications.
type WebhookConfig struct {
	URL            string `yaml:"url,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
