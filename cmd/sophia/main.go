package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sophia-ai/sophia/pkg/catalog"
	"github.com/sophia-ai/sophia/pkg/config"
	"github.com/sophia-ai/sophia/pkg/inference"
	"github.com/sophia-ai/sophia/pkg/ledger"
	"github.com/sophia-ai/sophia/pkg/logger"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "sophia",
		Short:         "Sophia: metered inference client with a response cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults are used when empty)")

	root.AddCommand(
		newServeCmd(&configPath),
		newGenerateCmd(&configPath),
		newUsageCmd(&configPath),
		newBudgetCmd(&configPath),
		newModelsCmd(&configPath),
		newCacheCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles what most commands need.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	ledger ledger.Ledger
}

func loadApp(configPath string) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	l, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.DSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &app{cfg: cfg, log: log, ledger: l}, nil
}

func (a *app) Close() {
	_ = a.ledger.Close()
	_ = a.log.Sync()
}

func (a *app) client() *inference.Client {
	inf := a.cfg.Inference
	return inference.New(
		catalog.New(a.cfg.Catalog),
		a.ledger,
		inference.NewOpenAICompleter(inf.BaseURL, inf.APIKey, inf.Timeout),
		inference.WithMaxAttempts(inf.MaxAttempts),
		inference.WithBackoff(inf.BaseDelay, inf.MaxDelay),
		inference.WithAttemptTimeout(inf.Timeout),
		inference.WithLogger(a.log),
	)
}
