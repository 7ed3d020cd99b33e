package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/vk/ftpgo/internal/ctxlog"
)

// Run serves FTP and the optional health check server until ctx is done or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if err := a.server.Start(ctx, a.host, a.port); err != nil {
		return err
	}
	healthLn, err := a.listenHealthcheck(ctx)
	if err != nil {
		return multierror.Append(err, a.server.Close()).ErrorOrNil()
	}
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Serve(gctx)
	})
	if healthLn != nil {
		g.Go(func() error {
			return a.serveHealthcheck(healthLn)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(ctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	a.logger.Info("🏁 Server stopped.")
	return nil
}

func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down.")
	var result *multierror.Error
	if err := a.server.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.closeHealthcheck(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
