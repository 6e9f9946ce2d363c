package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/server"
	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/desertthunder/vidpub/internal/tasks"
	"github.com/urfave/cli/v3"
)

// JobRun renders and publishes one video, printing progress until it finishes.
func (r *Runner) JobRun(ctx context.Context, cmd *cli.Command) error {
	return r.runJob(ctx, cmd, func(p *pipeline, job models.PublishJob) error {
		p.queue.Enqueue(job)
		return nil
	})
}

// AutomationNext publishes through the user's cycle: the scheduler picks the publish time and
// visibility, and the channel is retired once the cycle completes.
func (r *Runner) AutomationNext(ctx context.Context, cmd *cli.Command) error {
	user := cmd.String("user")
	return r.runJob(ctx, cmd, func(p *pipeline, job models.PublishJob) error {
		res, err := p.scheduler.Next(ctx, user, job)
		if err != nil && res == nil {
			return err
		}

		when := "now"
		if res.Slot.PublishAt != nil {
			when = res.Slot.PublishAt.Format("2006-01-02 15:04 MST")
		}
		r.writePlain("Cycle position %d: %s, publishing %s\n", res.Slot.Position, res.Slot.Visibility, when)
		if res.Retired != "" {
			r.writePlain("Cycle complete, channel %s retired\n", res.Retired)
		}
		if err != nil {
			r.logger.Warn("failed to save cycle", "user", user, "error", err)
		}
		return nil
	})
}

// runJob builds the flagged job, hands it to submit and waits for the worker.
func (r *Runner) runJob(ctx context.Context, cmd *cli.Command, submit func(*pipeline, models.PublishJob) error) error {
	if err := r.openPool(); err != nil {
		return err
	}
	defer r.close()

	var (
		mu    sync.Mutex
		final models.JobStatus
	)
	progress := make(chan tasks.ProgressUpdate, 16)
	p, err := r.newPipeline(ctx, tasks.QueueOptions{
		AfterFunc: runNow,
		Progress:  progress,
		OnFinish: func(s models.JobStatus) {
			mu.Lock()
			final = s
			mu.Unlock()
		},
	})
	if err != nil {
		return err
	}

	job, err := r.buildJob(ctx, p, cmd)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range progress {
			r.writePlain("[%d/%d] %-10s %s\n", u.Step, u.Total, u.Phase, u.Message)
		}
	}()

	if err := submit(p, *job); err != nil {
		_ = p.store.Remove(job.SessionID)
		close(progress)
		<-done
		return err
	}

	p.queue.Wait()
	close(progress)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if final.State != models.JobComplete {
		return fmt.Errorf("job %s failed: %s", job.SessionID, final.Message)
	}
	if final.VideoURL != "" {
		r.writePlain("✓ Published %s\n", final.VideoURL)
	} else {
		r.writePlain("✓ Published\n")
	}
	return nil
}

// buildJob stages the flagged files into a session and resolves the destination channel. The
// session is removed again when the job cannot be built.
func (r *Runner) buildJob(ctx context.Context, p *pipeline, cmd *cli.Command) (*models.PublishJob, error) {
	req := server.JobRequest{
		Title:       cmd.String("title"),
		Description: cmd.String("description"),
		Tags:        cmd.StringSlice("tag"),
		Visibility:  cmd.String("visibility"),
		ChannelID:   cmd.String("channel"),
		Plan:        cmd.String("plan"),
	}
	if v := cmd.String("publish-at"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%w: publish-at: %v", shared.ErrInvalidArgument, err)
		}
		req.PublishAt = &at
	}

	session, err := stageSession(p.store, cmd)
	if err != nil {
		return nil, err
	}
	req.SessionID = session

	api := server.NewAPI(server.Deps{Assets: p.store, Channels: r.channels, Logger: r.logger})
	job, err := api.BuildJob(ctx, req)
	if err != nil {
		_ = p.store.Remove(session)
		return nil, err
	}
	return job, nil
}
