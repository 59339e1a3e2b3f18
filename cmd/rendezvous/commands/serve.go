package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/app"
	"github.com/layer-3/rendezvous/config"
	"github.com/layer-3/rendezvous/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			lg, err := logger.New(cfg.App.Env)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			application, err := app.New(ctx, cfg, lg)
			if err != nil {
				lg.Error("failed to init app", zap.Error(err))
				return err
			}

			if err := application.Run(ctx); err != nil {
				lg.Error("application stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: listening on %s, store=%s, push=%s, events=%t\n",
				cfg.App.Addr(), cfg.Store.Backend, cfg.Push.Provider, cfg.Events.Enabled)
			return nil
		},
	}
}
