package slots

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/metrics"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// Reaped is a platform the reaper disconnected.
type Reaped struct {
	CredentialID string
	Platform     models.Platform
}

// IdleReaper disconnects platforms whose known channels have all gone idle.
type IdleReaper struct {
	alloc  *Allocator
	logger *log.Logger
}

// NewIdleReaper creates a reaper that releases slots through alloc.
func NewIdleReaper(alloc *Allocator, logger *log.Logger) *IdleReaper {
	if logger == nil {
		logger = log.Default()
	}
	return &IdleReaper{alloc: alloc, logger: shared.WithLogger(logger, "component", "reaper")}
}

// Sweep checks every connected platform once.
//
// A platform is reaped when it has at least one known channel and every known channel has been
// idle longer than the pool's idle threshold. Disconnect failures are logged and skipped.
func (r *IdleReaper) Sweep(ctx context.Context) ([]Reaped, error) {
	pool := r.alloc.pool
	state, err := pool.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := pool.Now()
	threshold := pool.Limits().IdleThreshold

	var reaped []Reaped
	for _, inst := range pool.Instances() {
		rec := state[inst.ID]
		for _, p := range models.Platforms() {
			if !rec.Connected(p) || !rec.AllIdle(p, now, threshold) {
				continue
			}

			if err := inst.API.Disconnect(ctx, p); err != nil {
				r.logger.Error("idle disconnect failed", "credential", inst.ID, "platform", p, "error", err)
				continue
			}
			r.alloc.release(ctx, inst.ID, p)
			metrics.ReapsTotal.WithLabelValues(string(p)).Inc()
			r.logger.Info("reaped idle platform", "credential", inst.ID, "platform", p, "channels", len(rec.KnownChannels(p)))
			reaped = append(reaped, Reaped{CredentialID: inst.ID, Platform: p})
		}
	}
	return reaped, nil
}

// Run sweeps every interval until ctx is done.
func (r *IdleReaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("idle sweep failed", "error", err)
			}
		}
	}
}
