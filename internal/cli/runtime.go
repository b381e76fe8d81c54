package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/soyeahso/owlvin/internal/config"
	"github.com/soyeahso/owlvin/internal/hooks"
	"github.com/soyeahso/owlvin/internal/identity"
	"github.com/soyeahso/owlvin/internal/logging"
	"github.com/soyeahso/owlvin/internal/notify"
	"github.com/soyeahso/owlvin/internal/persona"
	"github.com/soyeahso/owlvin/internal/store"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// loadConfig loads and validates the config file, logging every issue.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openPersonaStore builds the configured persona store. The closer is never nil.
func openPersonaStore(ctx context.Context, cfg config.PersonaConfig, log *logging.Logger) (persona.Store, io.Closer, error) {
	switch cfg.Store {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			if err := paths.EnsureDirs(); err != nil {
				return nil, nil, err
			}
			path = paths.ProfileDB()
		}
		db, err := store.Open(path, log)
		if err != nil {
			return nil, nil, fmt.Errorf("opening profile database: %w", err)
		}
		log.Info().Str("path", path).Msg("using SQLite persona store")
		return store.NewSQLiteProfileStore(db), db, nil
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := store.DialRedis(dialCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using Redis persona store")
		s := store.NewRedisProfileStore(client)
		return s, s, nil
	default:
		log.Warn().Msg("using in-memory persona store, profiles are lost on restart")
		return persona.NewMemoryStore(), nopCloser{}, nil
	}
}

func newResolver(s persona.Store, cfg config.PersonaConfig) *persona.Resolver {
	return persona.NewResolver(s, identity.NewHasher(cfg.Salt))
}

func policyFromConfig(cfg config.PromptConfig) persona.Policy {
	return persona.Policy{
		MaxWords:         cfg.MaxWords,
		RequireQuestion:  cfg.QuestionRequired(),
		AllowPunctuation: cfg.AllowPunctuation,
		AllowEmoji:       cfg.AllowEmoji,
		OpeningTurn:      cfg.OpeningTurn,
	}
}

// newSender picks Twilio when it is configured, otherwise the log sender.
func newSender(cfg config.NotifyConfig, log *logging.Logger) notify.Sender {
	if cfg.Sender == "twilio" && cfg.AccountSID != "" && cfg.AuthToken != "" {
		return notify.NewTwilioSender(cfg.AccountSID, cfg.AuthToken, log)
	}
	return notify.NewLogSender(log)
}

// newDispatcher returns nil when closing notifications are disabled.
func newDispatcher(cfg config.NotifyConfig, resolver *persona.Resolver, hm *hooks.Manager, log *logging.Logger) *notify.Dispatcher {
	if !cfg.NotifyEnabled() {
		log.Info().Msg("closing notifications disabled")
		return nil
	}
	sender := newSender(cfg, log)
	log.Info().Str("sender", sender.Name()).Msg("closing notifications enabled")
	return notify.NewDispatcher(resolver, sender, cfg.From, hm, log)
}
