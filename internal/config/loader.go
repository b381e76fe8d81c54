package config

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
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
	cfg.Persona.Redis.Password = expandEnvVars(cfg.Persona.Redis.Password)
	cfg.Persona.Salt = expandEnvVars(cfg.Persona.Salt)
	cfg.Notify.AccountSID = expandEnvVars(cfg.Notify.AccountSID)
	cfg.Notify.AuthToken = expandEnvVars(cfg.Notify.AuthToken)
	cfg.Notify.From = expandEnvVars(cfg.Notify.From)
	for name, provider := range cfg.LLM.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		cfg.LLM.Providers[name] = provider
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return &ConfigError{Message: "failed to load " + p + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
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

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.ConnectionPath == "" {
		cfg.Gateway.ConnectionPath = d.Gateway.ConnectionPath
	}
	if cfg.Gateway.WriteTimeoutSeconds == 0 {
		cfg.Gateway.WriteTimeoutSeconds = d.Gateway.WriteTimeoutSeconds
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = d.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = d.LLM.Model
	}
	if cfg.Persona.Store == "" {
		cfg.Persona.Store = d.Persona.Store
	}
	if cfg.Persona.Salt == "" {
		cfg.Persona.Salt = d.Persona.Salt
	}
	if cfg.Persona.NotFoundMessage == "" {
		cfg.Persona.NotFoundMessage = d.Persona.NotFoundMessage
	}
	if cfg.Prompt.MaxWords == 0 {
		cfg.Prompt.MaxWords = d.Prompt.MaxWords
	}
	if cfg.Prompt.OpeningTurn == "" {
		cfg.Prompt.OpeningTurn = d.Prompt.OpeningTurn
	}
	if cfg.Notify.Sender == "" {
		cfg.Notify.Sender = d.Notify.Sender
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
}

// applyEnvOverrides reads OWLVIN_* environment variables, plus the variable
// names used by existing relay deployments, and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := firstEnv("OWLVIN_GATEWAY_PORT", "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("OWLVIN_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("OWLVIN_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("OWLVIN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("OWLVIN_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("OWLVIN_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := firstEnv("OWLVIN_LLM_API_KEY"); v != "" {
		setProviderKey(cfg, cfg.LLM.Provider, v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && providerKey(cfg, "openai") == "" {
		setProviderKey(cfg, "openai", v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && providerKey(cfg, "claude") == "" {
		setProviderKey(cfg, "claude", v)
	}
	if v := os.Getenv("OWLVIN_PERSONA_SALT"); v != "" {
		cfg.Persona.Salt = v
	}
	if v := os.Getenv("OWLVIN_PERSONA_STORE"); v != "" {
		cfg.Persona.Store = strings.ToLower(v)
	}
	if v := os.Getenv("OWLVIN_REDIS_ADDR"); v != "" {
		cfg.Persona.Redis.Addr = v
	}
	if v := firstEnv("OWLVIN_TWILIO_ACCOUNT_SID", "TWILIO_ACCOUNT_SID_MESSAGING"); v != "" {
		cfg.Notify.AccountSID = v
	}
	if v := firstEnv("OWLVIN_TWILIO_AUTH_TOKEN", "TWILIO_AUTH_TOKEN_MESSAGING"); v != "" {
		cfg.Notify.AuthToken = v
	}
	if v := firstEnv("OWLVIN_NOTIFY_FROM", "FROM_NUMBER"); v != "" {
		cfg.Notify.From = v
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func providerKey(cfg *Config, name string) string {
	return cfg.LLM.Providers[name].APIKey
}

func setProviderKey(cfg *Config, name, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderEntry{}
	}
	entry := cfg.LLM.Providers[name]
	entry.APIKey = key
	cfg.LLM.Providers[name] = entry
}
