package server

import (
	"context"
	"net/http"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

// Serve runs the HTTP API until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, app *App) error {
	addr := app.Config.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("api server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Annotatef(err, "listen %s", addr)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.Logger.Info("api server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Trace(err)
	}
	return app.Close(shutdownCtx)
}
