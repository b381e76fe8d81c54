package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/owlvin/internal/config"
	"github.com/soyeahso/owlvin/internal/domain"
	"github.com/soyeahso/owlvin/internal/llm"
	"github.com/spf13/cobra"
)

func newLLMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llm",
		Short: "Inspect generation backends",
	}

	cmd.AddCommand(newLLMListCmd())
	cmd.AddCommand(newLLMAskCmd())
	return cmd
}

func newLLMListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				cfg = config.Defaults()
			}

			registry := llm.NewRegistryFromConfig(cfg.LLM, log)
			for _, name := range registry.List() {
				role := "fallback"
				if name == cfg.LLM.Provider {
					role = "primary"
				}
				model := cfg.LLM.Providers[name].Model
				if model == "" && name == cfg.LLM.Provider {
					model = cfg.LLM.Model
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %-8s %-9s model=%s\n", name, role, model)
			}
			return nil
		},
	}
}

func newLLMAskCmd() *cobra.Command {
	var system string

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Stream one completion from the configured backend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := llm.NewClientFromConfig(cfg.LLM, log)
			if err != nil {
				return err
			}

			var messages []llm.Message
			if system != "" {
				messages = append(messages, llm.Message{Role: string(domain.RoleSystem), Content: system})
			}
			messages = append(messages, llm.Message{Role: string(domain.RoleUser), Content: strings.Join(args, " ")})

			events, err := client.Stream(context.Background(), llm.CompletionRequest{
				Model:       cfg.LLM.Model,
				Messages:    messages,
				MaxTokens:   cfg.LLM.MaxTokens,
				Temperature: cfg.LLM.Temperature,
			})
			if err != nil {
				return err
			}
			for evt := range events {
				switch evt.Type {
				case llm.EventDelta:
					fmt.Fprint(cmd.OutOrStdout(), evt.Content)
				case llm.EventError:
					fmt.Fprintln(cmd.OutOrStdout())
					return fmt.Errorf("%s: %s", client.Name(), evt.Error)
				case llm.EventDone:
					fmt.Fprintln(cmd.OutOrStdout())
					if r := evt.Response; r != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "[model=%s tokens=%d+%d]\n",
							r.Model, r.Usage.InputTokens, r.Usage.OutputTokens)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "system instruction")
	return cmd
}
