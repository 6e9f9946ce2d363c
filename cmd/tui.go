package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/vidpub/internal/formatter"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/server"
	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/desertthunder/vidpub/internal/slots"
	"github.com/desertthunder/vidpub/internal/tasks"
	"github.com/desertthunder/vidpub/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive pool dashboard. When --channel is given the flagged video is
// published while the dashboard runs and its progress is shown below the slots.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.logger = fileLogger

	if err := r.openPool(); err != nil {
		return err
	}
	defer r.close()

	cb, err := r.listenCallback(ctx, cmd.String("listen"))
	if err != nil {
		return err
	}
	defer cb.close()

	var progress chan tasks.ProgressUpdate
	var queue *tasks.Queue
	if cmd.String("channel") != "" {
		progress = make(chan tasks.ProgressUpdate, 16)
		p, err := r.newPipeline(ctx, tasks.QueueOptions{AfterFunc: runNow, Progress: progress})
		if err != nil {
			return err
		}
		job, err := r.buildJob(ctx, p, cmd)
		if err != nil {
			return err
		}
		queue = p.queue
		queue.Enqueue(*job)
	}

	backend := &poolBackend{runner: r, callback: cb}
	model := ui.NewModel(ctx, backend, r.pool.Limits().IdleThreshold, progress)

	if _, err := tea.NewProgram(model).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	if queue != nil {
		queue.Wait()
	}
	return nil
}

// poolBackend serves the dashboard from the open pool. Connect links redirect to the local
// callback server.
type poolBackend struct {
	runner   *Runner
	callback *localCallback
}

func (b *poolBackend) Report(ctx context.Context) (formatter.PoolReport, error) {
	return server.PoolReport(ctx, b.runner.pool)
}

func (b *poolBackend) Sync(ctx context.Context) []slots.ScanResult {
	return b.runner.alloc.Sync(ctx)
}

func (b *poolBackend) Connect(ctx context.Context, platform models.Platform) (*slots.Connection, error) {
	conn, err := b.callback.connect(ctx, b.runner.alloc, platform)
	if err != nil {
		return nil, err
	}
	if err := b.runner.openBrowser(conn.URL); err != nil {
		b.runner.logger.Warn("could not open browser", "error", err)
	}
	return conn, nil
}

func (b *poolBackend) Disconnect(ctx context.Context, credentialID string, platform models.Platform) error {
	return b.runner.alloc.Disconnect(ctx, credentialID, platform)
}
