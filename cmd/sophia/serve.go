package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sophia-ai/sophia/pkg/budget"
	"github.com/sophia-ai/sophia/pkg/cache"
	"github.com/sophia-ai/sophia/pkg/router"
	"github.com/sophia-ai/sophia/pkg/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OpenAI-compatible HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			cfg := rt.cfg
			if listen != "" {
				cfg.Listen = listen
			}
			if cfg.Inference.APIKey == "" {
				rt.log.Warn("no API key configured; set LAMBDA_API_KEY or inference.api_key")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var c *cache.Cache
			if cfg.Cache.Enabled {
				c = cache.New(
					cache.WithMaxEntries(cfg.Cache.MaxEntries),
					cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
					cache.WithLogger(rt.log),
				)
				go c.RunJanitor(ctx, cfg.Cache.CleanupInterval)
			}

			var enforcer *budget.Enforcer
			if cfg.Budget.Enabled {
				enforcer = budget.New(cfg.Budget.Policies, rt.ledger)
			}

			srv := server.New(cfg, rt.client(), router.New(cfg.Router, rt.log), c, enforcer, rt.log)

			rt.log.Info("starting sophia",
				zap.String("config", *configPath),
				zap.String("ledger", cfg.Ledger.Driver),
				zap.Bool("cache", cfg.Cache.Enabled),
				zap.Bool("budget", cfg.Budget.Enabled),
			)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
