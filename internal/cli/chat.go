package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/soyeahso/owlvin/internal/identity"
	"github.com/soyeahso/owlvin/internal/llm"
	"github.com/soyeahso/owlvin/internal/relay"
	"github.com/spf13/cobra"
)

// consoleTransport prints reply tokens and signals the end of every turn.
type consoleTransport struct {
	out  io.Writer
	mu   sync.Mutex
	turn chan struct{}
}

func (c *consoleTransport) SendText(token string, last bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, token)
	if last {
		fmt.Fprintln(c.out)
		c.turn <- struct{}{}
	}
	return nil
}

func (c *consoleTransport) SendEnd(string) error {
	fmt.Fprintln(c.out, "[call ended]")
	return nil
}

func newChatCmd() *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a caller's persona from the terminal",
		Long:  "Runs one relay session in-process. Each line read from stdin is sent as a caller prompt.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			profiles, closer, err := openPersonaStore(ctx, cfg.Persona, log)
			if err != nil {
				return err
			}
			defer closer.Close()
			resolver := newResolver(profiles, cfg.Persona)

			id := identity.Resolve(from)
			profile, err := resolver.Fetch(ctx, id)
			if err != nil {
				return fmt.Errorf("persona for %q: %w", from, err)
			}

			client, err := llm.NewClientFromConfig(cfg.LLM, log)
			if err != nil {
				return err
			}

			transport := &consoleTransport{out: cmd.OutOrStdout(), turn: make(chan struct{}, 1)}
			session := relay.NewSession("console", transport, relay.Options{
				Client:      client,
				Log:         log,
				Policy:      policyFromConfig(cfg.Prompt),
				Model:       cfg.LLM.Model,
				MaxTokens:   cfg.LLM.MaxTokens,
				Temperature: cfg.LLM.Temperature,
			})
			defer session.Close()

			if err := session.HandleSetup(id, profile); err != nil {
				return err
			}

			lines := bufio.NewScanner(cmd.InOrStdin())
			for {
				select {
				case <-transport.turn:
				case <-ctx.Done():
					return nil
				}

				fmt.Fprint(cmd.OutOrStdout(), "> ")
				if !lines.Scan() {
					return lines.Err()
				}
				text := strings.TrimSpace(lines.Text())
				if text == "" {
					transport.turn <- struct{}{}
					continue
				}
				if err := session.HandlePrompt(text); err != nil {
					if errors.Is(err, relay.ErrSessionClosed) {
						return nil
					}
					return err
				}
			}
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "caller address (e.g. +15551234567 or whatsapp:+15551234567)")
	cmd.MarkFlagRequired("from")

	return cmd
}
