package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/recap/cmd/recap/sqlitepath"
	"github.com/papercomputeco/recap/gateway"
	"github.com/papercomputeco/recap/pkg/config"
	"github.com/papercomputeco/recap/pkg/logger"
)

const serveLongDesc string = `Run the recap gateway.

Configuration is read from a TOML file (--config) and the environment
(OPENAI_API_KEY, OPENAI_MODEL, API_PASSWORD, ...). When a config file
is given it is watched, and edits are applied to new requests without
a restart. Conversations are kept in memory unless a SQLite database
is configured.

Examples:
  recap serve --config recap.toml
  OPENAI_API_KEY=sk-... OPENAI_MODEL=gpt-4o API_PASSWORD=secret recap serve --persist`

const serveShortDesc string = "Run the recap gateway"

const shutdownTimeout = 30 * time.Second

type serveCommander struct {
	configPath string
	listen     string
	sqlitePath string
	persist    bool
	debug      bool
	jsonLogs   bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to TOML config file")
	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides config)")
	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to SQLite database (overrides config)")
	cmd.Flags().BoolVar(&cmder.persist, "persist", false, "Store conversations in the default SQLite database")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json-logs", false, "Write logs as JSON")

	return cmd
}

// overrides applies command line flags on top of a loaded configuration.
func (c *serveCommander) overrides(cfg *config.Config) error {
	if c.listen != "" {
		cfg.Server.Listen = c.listen
	}
	if c.debug {
		cfg.Server.Debug = true
	}
	if c.sqlitePath != "" || c.persist {
		path, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
		if err != nil {
			return err
		}
		cfg.Storage.SQLitePath = path
	}
	return nil
}

func (c *serveCommander) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if c.configPath != "" {
		// The watcher's logger is replaced once the config says how to log.
		watcher, err = config.NewWatcher(c.configPath, zap.NewNop())
		if err != nil {
			return err
		}
		defer watcher.Stop()
		cfg = watcher.Current()
	} else {
		cfg, err = config.Load("")
		if err != nil {
			return err
		}
	}

	if err := c.overrides(cfg); err != nil {
		return err
	}

	log := logger.New(logger.Options{Debug: cfg.Server.Debug, JSON: c.jsonLogs})
	defer log.Sync()

	log.Info("recap gateway starting",
		zap.String("listen", cfg.Server.Listen),
		zap.String("model", cfg.Upstream.Model),
		zap.String("config", c.configPath),
		zap.Bool("debug", cfg.Server.Debug),
	)

	g, err := gateway.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	defer g.Close()

	if watcher != nil {
		watcher.SetLogger(log.Named("config"))
		watcher.OnApply(func(next *config.Config) {
			if err := c.overrides(next); err != nil {
				log.Warn("ignoring reloaded config", zap.Error(err))
				return
			}
			if err := g.Apply(next); err != nil {
				log.Warn("ignoring reloaded config", zap.Error(err))
			}
		})
		go func() {
			if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("config watcher stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- g.Run() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return g.Shutdown(shutdownCtx)
}
