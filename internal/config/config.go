package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort            = 8080
	DefaultConnectionPath  = "/connection"
	DefaultModel           = "gpt-4.1-nano"
	DefaultNotFoundMessage = "Sorry I do not know you yet Please create a profile and call me back"
	DefaultSalt            = "apples_are_not_yellow"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port:                DefaultPort,
			Bind:                "loopback",
			ConnectionPath:      DefaultConnectionPath,
			WriteTimeoutSeconds: 10,
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    DefaultModel,
		},
		Persona: PersonaConfig{
			Store:           "memory",
			Salt:            DefaultSalt,
			NotFoundMessage: DefaultNotFoundMessage,
		},
		Prompt: PromptConfig{
			MaxWords:    15,
			OpeningTurn: "Hi there!",
		},
		Notify: NotifyConfig{
			Sender: "log",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
