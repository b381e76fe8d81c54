package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind: custom")
	}
	if cfg.Gateway.ConnectionPath != "" && !strings.HasPrefix(cfg.Gateway.ConnectionPath, "/") {
		add("gateway.connectionPath", "must start with /, got %q", cfg.Gateway.ConnectionPath)
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}
	if cfg.Gateway.WriteTimeoutSeconds < 0 {
		add("gateway.writeTimeoutSeconds", "must not be negative")
	}

	// LLM validation
	validProviders := []string{"openai", "claude", "ollama", "mock"}
	if !slices.Contains(validProviders, cfg.LLM.Provider) {
		add("llm.provider", "must be one of %v, got %q", validProviders, cfg.LLM.Provider)
	}
	for _, fb := range cfg.LLM.Fallbacks {
		if !slices.Contains(validProviders, fb) {
			add("llm.fallbacks", "unknown provider %q", fb)
		}
	}
	for _, name := range append([]string{cfg.LLM.Provider}, cfg.LLM.Fallbacks...) {
		if (name == "openai" || name == "claude") && cfg.LLM.Providers[name].APIKey == "" {
			add("llm.providers."+name+".apiKey", "required for provider %s", name)
		}
	}
	if cfg.LLM.MaxTokens < 0 {
		add("llm.maxTokens", "must not be negative")
	}
	if t := cfg.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("llm.temperature", "must be between 0 and 2, got %v", *t)
	}

	// Persona validation
	validStores := []string{"memory", "sqlite", "redis"}
	if !slices.Contains(validStores, cfg.Persona.Store) {
		add("persona.store", "must be one of %v, got %q", validStores, cfg.Persona.Store)
	}
	if cfg.Persona.Store == "redis" && cfg.Persona.Redis.Addr == "" {
		add("persona.redis.addr", "required when store: redis")
	}
	if cfg.Persona.Salt == "" {
		add("persona.salt", "must not be empty")
	}

	// Prompt validation
	if cfg.Prompt.MaxWords <= 0 {
		add("prompt.maxWords", "must be positive, got %d", cfg.Prompt.MaxWords)
	}

	// Notify validation
	validSenders := []string{"twilio", "log"}
	if !slices.Contains(validSenders, cfg.Notify.Sender) {
		add("notify.sender", "must be one of %v, got %q", validSenders, cfg.Notify.Sender)
	}
	if cfg.Notify.Sender == "twilio" && cfg.Notify.NotifyEnabled() {
		if cfg.Notify.AccountSID == "" {
			add("notify.accountSid", "required when sender: twilio")
		}
		if cfg.Notify.AuthToken == "" {
			add("notify.authToken", "required when sender: twilio")
		}
		if cfg.Notify.From == "" {
			add("notify.from", "required when sender: twilio")
		}
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}
