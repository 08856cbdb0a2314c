package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tsinling0525/rivulet-gen/cmd/api/server"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			app, err := g.app(ctx)
			if err != nil {
				return err
			}
			return server.Serve(ctx, app)
		},
	}
}
