package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/desertthunder/vidpub/internal/server"
	"github.com/desertthunder/vidpub/internal/slots"
	"github.com/desertthunder/vidpub/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP API until interrupted, together with the job worker, the idle reaper and
// the abandoned-session janitor.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.openPool(); err != nil {
		return err
	}
	defer r.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := r.newPipeline(ctx, tasks.QueueOptions{})
	if err != nil {
		return err
	}

	host, port := r.config.Server.Host, r.config.Server.Port
	if cmd.IsSet("host") {
		host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		port = int(cmd.Int("port"))
	}

	handler := server.New(server.Deps{
		Assets:     p.store,
		Queue:      p.queue,
		Channels:   r.channels,
		Allocator:  r.alloc,
		Callback:   server.NewConnectCallback(r.reconcile, 0, r.logger),
		Automation: p.scheduler,
		PublicURL:  r.config.Server.PublicURL,
		Logger:     r.logger,
	}, r.config.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if interval := r.config.Pool.ReapInterval; interval > 0 {
		go slots.NewIdleReaper(r.alloc, r.logger).Run(ctx, interval)
	}
	go r.janitor(ctx, p, r.config.Storage.SessionTTL)

	errs := make(chan error, 1)
	go func() {
		r.logger.Info("server listening", "addr", srv.Addr, "public_url", r.config.Server.PublicURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	r.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("graceful shutdown failed", "error", err)
	}

	p.queue.Wait()
	return nil
}

// janitor removes session directories nobody submitted a job for.
func (r *Runner) janitor(ctx context.Context, p *pipeline, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.store.ReapAbandoned(ttl)
			if err != nil {
				r.logger.Warn("session cleanup failed", "error", err)
				continue
			}
			if len(removed) > 0 {
				r.logger.Info("removed abandoned sessions", "count", len(removed))
			}
		}
	}
}
