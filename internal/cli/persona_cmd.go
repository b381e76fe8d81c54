package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/owlvin/internal/config"
	"github.com/soyeahso/owlvin/internal/domain"
	"github.com/soyeahso/owlvin/internal/identity"
	"github.com/spf13/cobra"
)

func newPersonaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage caller personas",
	}

	cmd.AddCommand(newPersonaPutCmd())
	cmd.AddCommand(newPersonaGetCmd())
	cmd.AddCommand(newPersonaHashCmd())
	return cmd
}

// callerKey resolves a phone number or channel-prefixed address to its store key.
func callerKey(cfg config.PersonaConfig, raw string) (domain.CallerIdentity, string, error) {
	id := identity.Resolve(raw)
	if !id.Valid() {
		return id, "", fmt.Errorf("%q is not a phone number", raw)
	}
	return id, identity.NewHasher(cfg.Salt).Key(id), nil
}

func newPersonaPutCmd() *cobra.Command {
	var (
		topic       string
		personality string
		tone        string
		locale      string
		voiceID     string
	)

	cmd := &cobra.Command{
		Use:   "put <phone-number>",
		Short: "Create or replace the persona for a caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, key, err := callerKey(cfg.Persona, args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			profiles, closer, err := openPersonaStore(ctx, cfg.Persona, log)
			if err != nil {
				return err
			}
			defer closer.Close()

			p := domain.Profile{
				Topic:       topic,
				Personality: personality,
				Tone:        tone,
				Locale:      domain.Locale(locale).Normalize(),
				VoiceID:     voiceID,
				Active:      true,
				LastUsed:    time.Now().UTC(),
			}
			if err := profiles.Put(ctx, key, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored persona %s\n", key)
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "conversation topic")
	cmd.Flags().StringVar(&personality, "personality", "", "persona personality")
	cmd.Flags().StringVar(&tone, "tone", "", "speaking tone")
	cmd.Flags().StringVar(&locale, "locale", "en", "reply language (en, pt)")
	cmd.Flags().StringVar(&voiceID, "voice", "", "voice identifier, stored as given")
	cmd.MarkFlagRequired("topic")

	return cmd
}

func newPersonaGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <phone-number>",
		Short: "Print the persona stored for a caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, key, err := callerKey(cfg.Persona, args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			profiles, closer, err := openPersonaStore(ctx, cfg.Persona, log)
			if err != nil {
				return err
			}
			defer closer.Close()

			p, err := profiles.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("persona %s: %w", key, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}

func newPersonaHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <phone-number>",
		Short: "Print the store key for a caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			id, key, err := callerKey(cfg.Persona, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s)\n", key, id.Canonical, id.Channel)
			return nil
		},
	}
}
