package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/owlvin/internal/config"
	"github.com/soyeahso/owlvin/internal/llm"
	"github.com/soyeahso/owlvin/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show owlvin status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "owlvin %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(out, "Config:  not found (using defaults)")
				} else {
					fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				}
				return nil
			}

			auth := "open"
			if cfg.Gateway.Auth.Token != "" {
				auth = "token"
			}
			fmt.Fprintf(out, "Gateway: port=%d bind=%s path=%s admin=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.ConnectionPath, auth, cfg.Gateway.TLS.Enabled)

			registry := llm.NewRegistryFromConfig(cfg.LLM, log)
			if providers := registry.List(); len(providers) > 0 {
				fmt.Fprintf(out, "LLM:     primary=%s model=%s available=%s\n",
					cfg.LLM.Provider, cfg.LLM.Model, strings.Join(providers, ", "))
			} else {
				fmt.Fprintln(out, "LLM:     (no provider has credentials)")
			}

			persona := cfg.Persona.Store
			switch persona {
			case "sqlite":
				path := cfg.Persona.SQLitePath
				if path == "" {
					path = paths.ProfileDB()
				}
				persona += " path=" + path
			case "redis":
				persona += " addr=" + cfg.Persona.Redis.Addr
			}
			fmt.Fprintf(out, "Persona: store=%s\n", persona)

			if cfg.Notify.NotifyEnabled() {
				fmt.Fprintf(out, "Notify:  sender=%s from=%s\n", cfg.Notify.Sender, cfg.Notify.From)
			} else {
				fmt.Fprintln(out, "Notify:  disabled")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
