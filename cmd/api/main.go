package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/cmd/api/server"
	"github.com/Tsinling0525/rivulet-gen/config"
	"github.com/Tsinling0525/rivulet-gen/logutil"
)

func main() {
	cfg, err := config.Load(os.Getenv("RIVGEN_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logger := logutil.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	if err := server.Serve(ctx, app); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
