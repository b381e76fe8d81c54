package config

// Config is the root configuration for Owlvin.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	LLM     LLMConfig     `yaml:"llm,omitempty"`
	Persona PersonaConfig `yaml:"persona,omitempty"`
	Prompt  PromptConfig  `yaml:"prompt,omitempty"`
	Notify  NotifyConfig  `yaml:"notify,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// GatewayConfig controls the relay HTTP/WebSocket server.
type GatewayConfig struct {
	Port                int         `yaml:"port,omitempty"`
	Bind                string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost      string      `yaml:"customBindHost,omitempty"`
	ConnectionPath      string      `yaml:"connectionPath,omitempty"`
	WriteTimeoutSeconds int         `yaml:"writeTimeoutSeconds,omitempty"`
	Auth                GatewayAuth `yaml:"auth,omitempty"`
	TLS                 GatewayTLS  `yaml:"tls,omitempty"`
}

// GatewayAuth protects the profile administration endpoints.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// LLMConfig selects the generation backend.
type LLMConfig struct {
	Provider    string                      `yaml:"provider,omitempty"` // "openai" | "claude" | "ollama" | "mock"
	Model       string                      `yaml:"model,omitempty"`
	MaxTokens   int                         `yaml:"maxTokens,omitempty"`
	Temperature *float64                    `yaml:"temperature,omitempty"`
	Fallbacks   []string                    `yaml:"fallbacks,omitempty"`
	Providers   map[string]LLMProviderEntry `yaml:"providers,omitempty"`
}

// LLMProviderEntry holds the credentials and endpoint of one provider.
type LLMProviderEntry struct {
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// PersonaConfig controls where caller profiles live and how keys are derived.
type PersonaConfig struct {
	Store           string      `yaml:"store,omitempty"` // "memory" | "sqlite" | "redis"
	SQLitePath      string      `yaml:"sqlitePath,omitempty"`
	Redis           RedisConfig `yaml:"redis,omitempty"`
	Salt            string      `yaml:"salt,omitempty"`
	NotFoundMessage string      `yaml:"notFoundMessage,omitempty"`
}

// RedisConfig locates the shared profile store.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// PromptConfig shapes the rendered system instruction.
type PromptConfig struct {
	MaxWords         int    `yaml:"maxWords,omitempty"`
	RequireQuestion  *bool  `yaml:"requireQuestion,omitempty"`
	AllowPunctuation bool   `yaml:"allowPunctuation,omitempty"`
	AllowEmoji       bool   `yaml:"allowEmoji,omitempty"`
	OpeningTurn      string `yaml:"openingTurn,omitempty"`
}

// NotifyConfig configures the closing message sent after a call.
type NotifyConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	Sender     string `yaml:"sender,omitempty"` // "twilio" | "log"
	AccountSID string `yaml:"accountSid,omitempty"`
	AuthToken  string `yaml:"authToken,omitempty"`
	From       string `yaml:"from,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// NotifyEnabled reports whether closing messages are sent. Defaults to true.
func (n NotifyConfig) NotifyEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

// QuestionRequired reports whether replies must end with a question. Defaults to true.
func (p PromptConfig) QuestionRequired() bool {
	return p.RequireQuestion == nil || *p.RequireQuestion
}
