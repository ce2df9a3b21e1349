package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/karthikpremaram/mills-new/internal/transport"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Router(ctx).MountRoutes(mux),
				),
			),
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	// Derived so an early return (a failed listen) still releases the
	// worker pool instead of waiting on a signal that never comes.
	ctx, cancel := context.WithCancel(ctx)

	pool := a.di.WorkerPool(ctx)
	if err := pool.Run(ctx); err != nil {
		cancel()
		return err
	}
	defer a.di.natsConn.Close()
	defer pool.Stop(ctx)
	defer cancel()

	errCh := make(chan error)
	go func() {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			errCh <- e
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		a.di.Config().ShutdownTimeout.Std(),
	)
	defer shutdownCancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		return err
	}

	slog.Info("server gracefully stopped")
	return nil
}
