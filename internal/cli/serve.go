package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/owlvin/internal/gateway"
	"github.com/soyeahso/owlvin/internal/hooks"
	"github.com/soyeahso/owlvin/internal/llm"
	"github.com/soyeahso/owlvin/internal/logging"
	"github.com/soyeahso/owlvin/internal/metrics"
	"github.com/soyeahso/owlvin/internal/plugin"
	"github.com/soyeahso/owlvin/internal/relay"
	"github.com/spf13/cobra"
	"github.com/tillberg/autorestart"
)

func newServeCmd() *cobra.Command {
	var (
		port  int
		bind  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			root, closer, err := logging.Open(logging.Options{
				Level: level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			if watch {
				go autorestart.RestartOnChange()
				root.Info().Msg("restarting when the binary changes")
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			profiles, storeCloser, err := openPersonaStore(ctx, cfg.Persona, root)
			if err != nil {
				return err
			}
			defer storeCloser.Close()
			resolver := newResolver(profiles, cfg.Persona)

			client, err := llm.NewClientFromConfig(cfg.LLM, root)
			if err != nil {
				return err
			}
			root.Info().Str("provider", client.Name()).Strs("fallbacks", cfg.LLM.Fallbacks).Msg("generation backend ready")

			hookMgr := hooks.NewManager(root)
			m := metrics.New("")

			plugins := plugin.NewRegistry(hookMgr, root)
			for _, p := range []plugin.Plugin{plugin.NewMetrics(m), plugin.NewCallLog()} {
				if err := plugins.Register(p); err != nil {
					return err
				}
			}
			if err := plugins.InitAll(ctx); err != nil {
				return fmt.Errorf("initializing plugins: %w", err)
			}
			defer plugins.CloseAll()

			opts := relay.Options{
				Client:      client,
				Hooks:       hookMgr,
				Log:         root,
				Policy:      policyFromConfig(cfg.Prompt),
				Model:       cfg.LLM.Model,
				MaxTokens:   cfg.LLM.MaxTokens,
				Temperature: cfg.LLM.Temperature,
			}
			dispatcher := newDispatcher(cfg.Notify, resolver, hookMgr, root)
			if dispatcher != nil {
				opts.Notifier = dispatcher
			}
			sessions := relay.NewRegistry(opts)

			srv := gateway.New(cfg.Gateway, sessions, resolver, root,
				gateway.WithHooks(hookMgr),
				gateway.WithMetrics(m),
				gateway.WithNotFoundMessage(cfg.Persona.NotFoundMessage),
			)

			serveErr := srv.Start(ctx)

			drainCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			if dispatcher != nil {
				if err := dispatcher.Wait(drainCtx); err != nil {
					root.Warn().Err(err).Msg("closing notifications still pending at exit")
				}
			}
			hookMgr.Wait()
			return serveErr
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&watch, "watch", false, "restart the process when its binary is rebuilt")

	return cmd
}
