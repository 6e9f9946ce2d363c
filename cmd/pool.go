package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/desertthunder/vidpub/internal/formatter"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/server"
	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/desertthunder/vidpub/internal/slots"
	"github.com/urfave/cli/v3"
)

// reconcile rescans a credential after one of its platforms was connected.
func (r *Runner) reconcile(ctx context.Context, credentialID string) ([]models.Channel, error) {
	inst, err := r.pool.Instance(credentialID)
	if err != nil {
		return nil, err
	}
	res := r.alloc.Scan(ctx, inst)
	return res.Channels, res.Err
}

// PoolStatus prints every slot's connection state, idle time and monthly usage.
func (r *Runner) PoolStatus(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if err := r.openPool(); err != nil {
		return err
	}
	defer r.close()

	report, err := server.PoolReport(ctx, r.pool)
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		if err := formatter.WritePoolReport(report, format, path); err != nil {
			return err
		}
		r.logger.Info("pool report written", "path", path, "format", format)
		return nil
	}

	data, err := formatter.Render(report, format)
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// PoolConnect issues an authorization link for the platform on a free or displaced slot and
// waits for the platform to redirect back.
func (r *Runner) PoolConnect(ctx context.Context, cmd *cli.Command) error {
	platform, err := models.ParsePlatform(cmd.StringArg("platform"))
	if err != nil {
		return err
	}
	if err := r.openPool(); err != nil {
		return err
	}
	defer r.close()

	cb, err := r.listenCallback(ctx, cmd.String("listen"))
	if err != nil {
		return err
	}
	defer cb.close()

	conn, err := cb.connect(ctx, r.alloc, platform)
	if err != nil {
		return err
	}

	r.writePlainHeader(fmt.Sprintf("Connect %s via %s", platform, conn.CredentialID))
	r.writePlain("%s\n", conn.URL)
	if cmd.Bool("open") {
		if err := r.openBrowser(conn.URL); err != nil {
			r.logger.Warn("could not open browser", "error", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	select {
	case <-waitCtx.Done():
		return fmt.Errorf("%w: no callback within %s", shared.ErrAuthFailed, cmd.Duration("timeout"))
	case res := <-cb.handler.Results():
		if err := res.Err(); err != nil {
			return err
		}
		r.writePlainln("✓ Connected %d channel(s):", len(res.Channels))
		for _, ch := range res.Channels {
			if ch.Platform == platform {
				r.writePlain("  %s  %s\n", ch.ChannelID, ch.Title)
			}
		}
		return nil
	}
}

// PoolSync rescans every credential and resolves channels claimed by more than one.
func (r *Runner) PoolSync(ctx context.Context, cmd *cli.Command) error {
	if err := r.openPool(); err != nil {
		return err
	}
	defer r.close()

	results := r.alloc.Sync(ctx)
	r.writePlainHeader("Pool sync")

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			r.writePlain("✗ %s: %v\n", res.CredentialID, res.Err)
			errs = append(errs, res.Err)
			continue
		}
		r.writePlain("✓ %s: %d channel(s)\n", res.CredentialID, len(res.Channels))
		for _, c := range res.Conflicts {
			r.writePlain("  ! %s on %s moved from %s\n", c.ChannelID, c.Platform, c.PreviousOwner)
		}
	}
	return errors.Join(errs...)
}

// PoolReap runs one idle sweep.
func (r *Runner) PoolReap(ctx context.Context, cmd *cli.Command) error {
	if err := r.openPool(); err != nil {
		return err
	}
	defer r.close()

	reaped, err := slots.NewIdleReaper(r.alloc, r.logger).Sweep(ctx)
	if err != nil {
		return err
	}
	if len(reaped) == 0 {
		r.writePlain("No idle slots\n")
		return nil
	}
	for _, s := range reaped {
		r.writePlain("Freed %s on %s\n", s.Platform, s.CredentialID)
	}
	return nil
}

// PoolDisconnect frees one slot.
func (r *Runner) PoolDisconnect(ctx context.Context, cmd *cli.Command) error {
	credential := cmd.StringArg("credential")
	if credential == "" {
		return fmt.Errorf("%w: credential", shared.ErrMissingArgument)
	}
	platform, err := models.ParsePlatform(cmd.StringArg("platform"))
	if err != nil {
		return err
	}
	if err := r.openPool(); err != nil {
		return err
	}
	defer r.close()

	if err := r.alloc.Disconnect(ctx, credential, platform); err != nil {
		return err
	}
	r.writePlain("Freed %s on %s\n", platform, credential)
	return nil
}

// localCallback is a temporary HTTP server receiving connect redirects for CLI flows.
type localCallback struct {
	handler *server.ConnectCallback
	base    string
	srv     *http.Server
}

func (r *Runner) listenCallback(ctx context.Context, addr string) (*localCallback, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for callback: %w", err)
	}

	handler := server.NewConnectCallback(r.reconcile, 0, r.logger)
	router := server.NewMuxRouter()
	router.Use(server.Recovery(r.logger))
	router.Handler(handler)

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("callback server failed", "error", err)
		}
	}()

	return &localCallback{handler: handler, base: "http://" + ln.Addr().String(), srv: srv}, nil
}

// connect allocates a slot and registers its state so the redirect is accepted.
func (c *localCallback) connect(ctx context.Context, alloc *slots.Allocator, platform models.Platform) (*slots.Connection, error) {
	state := shared.GenerateID()
	conn, err := alloc.ConnectURL(ctx, platform, server.RedirectURL(c.base, state))
	if err != nil {
		return nil, err
	}
	c.handler.Register(state, platform, conn.CredentialID)
	return conn, nil
}

func (c *localCallback) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.srv.Shutdown(ctx)
}
