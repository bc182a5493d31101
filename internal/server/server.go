// Package server runs the control API with graceful shutdown.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds how long in-flight requests may drain.
const DefaultShutdownTimeout = 15 * time.Second

// Options controls Serve. Zero values listen on server.Addr and watch
// SIGINT/SIGTERM.
type Options struct {
	Listener        net.Listener
	Signals         <-chan os.Signal
	ShutdownTimeout time.Duration
}

// Serve runs server until it fails, a shutdown signal arrives or ctx is done.
// In the latter two cases in-flight requests are drained before returning.
func Serve(ctx context.Context, server *http.Server, logger *zap.Logger, opts Options) error {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if opts.Listener != nil {
			err = server.Serve(opts.Listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := opts.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	var reason string
	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		reason = sig.String()
	case <-ctx.Done():
		reason = ctx.Err().Error()
	}

	logger.Info("shutting down control API", zap.String("reason", reason))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return <-errCh
}
