package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/cmd/api/server"
	"github.com/Tsinling0525/rivulet-gen/config"
	"github.com/Tsinling0525/rivulet-gen/logutil"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "rivulet-gen",
		Short:         "Run image generation jobs against a node-graph engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("RIVGEN_CONFIG"), "path to a TOML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newPreviewCmd(opts),
		newServeCmd(opts),
		newJobsCmd(opts),
	)
	return root
}

// load reads the configuration and builds the logger.
func (o *globalOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, logutil.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr), nil
}

// app builds the service graph for commands that talk to the engine.
func (o *globalOptions) app(ctx context.Context) (*server.App, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return server.NewApp(ctx, cfg, logger)
}
