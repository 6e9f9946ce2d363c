package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/metrics"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// ChannelStore is the registry of channel ownership.
type ChannelStore interface {
	Get(ctx context.Context, channelID string) (*models.Channel, error)
	Upsert(ctx context.Context, ch models.Channel) error
	MarkDisconnected(ctx context.Context, credentialID string, platform models.Platform) error
}

// Allocator hands out connect URLs backed by pool credentials.
type Allocator struct {
	pool     *Pool
	channels ChannelStore
	logger   *log.Logger
}

// NewAllocator creates an allocator over pool. channels may be nil when no registry is kept.
func NewAllocator(pool *Pool, channels ChannelStore, logger *log.Logger) *Allocator {
	if logger == nil {
		logger = log.Default()
	}
	return &Allocator{pool: pool, channels: channels, logger: shared.WithLogger(logger, "component", "allocator")}
}

// Pool returns the allocator's pool.
func (a *Allocator) Pool() *Pool {
	return a.pool
}

// Connection is an authorization URL and the credential it connects.
type Connection struct {
	URL          string
	CredentialID string
}

// ConnectURL returns an authorization URL that connects platform to some pool credential.
//
// Fails with [shared.ErrAllAccountsBusy] when every slot is recently active and
// [shared.ErrNoCapacity] when no credential has quota left.
func (a *Allocator) ConnectURL(ctx context.Context, platform models.Platform, redirect string) (*Connection, error) {
	conn, err := a.connect(ctx, platform, redirect)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrAllAccountsBusy):
		outcome = "busy"
	case errors.Is(err, shared.ErrNoCapacity):
		outcome = "no_capacity"
	default:
		outcome = "error"
	}
	metrics.ConnectTotal.WithLabelValues(string(platform), outcome).Inc()
	return conn, err
}

func (a *Allocator) connect(ctx context.Context, platform models.Platform, redirect string) (*Connection, error) {
	if !platform.Valid() {
		return nil, fmt.Errorf("%w: unknown platform %q", shared.ErrInvalidInput, platform)
	}

	cands, err := a.pool.Candidates(ctx, platform)
	if err != nil {
		return nil, err
	}
	if conn, err := a.tryCandidates(ctx, cands, platform, redirect); conn != nil || err != nil {
		return conn, err
	}

	victim, err := a.pickVictim(ctx, platform)
	if err != nil {
		return nil, err
	}

	if err := victim.API.Disconnect(ctx, platform); err != nil {
		a.logger.Error("displacement disconnect failed", "credential", victim.ID, "platform", platform, "error", err)
		return nil, shared.ErrAllAccountsBusy
	}
	a.release(ctx, victim.ID, platform)
	metrics.DisplacementsTotal.WithLabelValues(string(platform)).Inc()
	a.logger.Info("displaced idle slot", "credential", victim.ID, "platform", platform)

	conn, err := a.tryCandidates(ctx, []*Instance{victim}, platform, redirect)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, shared.ErrAllAccountsBusy
	}
	return conn, nil
}

// tryCandidates asks each candidate for a URL in order. A nil connection and nil error mean every
// candidate turned out to be connected already.
func (a *Allocator) tryCandidates(ctx context.Context, cands []*Instance, platform models.Platform, redirect string) (*Connection, error) {
	var lastErr error
	for _, inst := range cands {
		url, err := inst.API.ConnectURL(ctx, platform, redirect)
		switch {
		case err == nil:
			return &Connection{URL: url, CredentialID: inst.ID}, nil
		case errors.Is(err, shared.ErrAlreadyConnected):
			a.logger.Warn("stale connected flag corrected", "credential", inst.ID, "platform", platform)
			if err := a.pool.SetConnected(ctx, inst.ID, platform, true); err != nil {
				return nil, err
			}
		default:
			a.logger.Error("connect request failed", "credential", inst.ID, "platform", platform, "error", err)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: no credential returned a connect url: %w", shared.ErrServiceUnavailable, lastErr)
	}
	return nil, nil
}

// pickVictim chooses the credential to displace for platform or explains why none can be.
func (a *Allocator) pickVictim(ctx context.Context, platform models.Platform) (*Instance, error) {
	state, err := a.pool.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	quota := a.pool.Limits().MonthlyQuota
	var withQuota []Occupant
	for _, inst := range a.pool.Instances() {
		rec := state[inst.ID]
		if rec.HasQuota(quota) {
			withQuota = append(withQuota, Occupant{Instance: inst, Record: rec})
		}
	}
	if len(withQuota) == 0 {
		return nil, shared.ErrNoCapacity
	}

	now := a.pool.Now()
	victim, idle := SelectDisplacement(withQuota, platform, now)
	if grace := a.pool.Limits().DisplacementGrace; idle < grace {
		a.logger.Info("all slots busy", "platform", platform, "oldest_idle", idle.Round(time.Second), "grace", grace)
		return nil, shared.ErrAllAccountsBusy
	}
	return victim, nil
}

// Occupant pairs an instance with its usage record.
type Occupant struct {
	Instance *Instance
	Record   *models.UsageRecord
}

// SelectDisplacement returns the occupant whose latest activity on platform is oldest and how long
// it has been idle. Occupants with no recorded activity count as active at now. Ties keep pool order.
func SelectDisplacement(occupants []Occupant, platform models.Platform, now time.Time) (*Instance, time.Duration) {
	var (
		victim *Instance
		oldest time.Time
	)
	for _, o := range occupants {
		last, ok := o.Record.LastActive(platform)
		if !ok {
			last = now
		}
		if victim == nil || last.Before(oldest) {
			victim, oldest = o.Instance, last
		}
	}
	return victim, now.Sub(oldest)
}

// release clears local state for a platform the credential no longer holds. Failures are logged.
func (a *Allocator) release(ctx context.Context, credentialID string, platform models.Platform) {
	if err := a.pool.Release(ctx, credentialID, platform); err != nil {
		a.logger.Error("failed to release slot", "credential", credentialID, "platform", platform, "error", err)
	}
	if a.channels == nil {
		return
	}
	if err := a.channels.MarkDisconnected(ctx, credentialID, platform); err != nil {
		a.logger.Error("failed to mark channels disconnected", "credential", credentialID, "platform", platform, "error", err)
	}
}

// Disconnect frees a slot on operator request: the platform is disconnected remotely and the
// credential's local state for it is released.
func (a *Allocator) Disconnect(ctx context.Context, credentialID string, platform models.Platform) error {
	if !platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", shared.ErrInvalidInput, platform)
	}
	inst, err := a.pool.Instance(credentialID)
	if err != nil {
		return err
	}
	if err := inst.API.Disconnect(ctx, platform); err != nil {
		return fmt.Errorf("disconnect %s from %s: %w", platform, credentialID, err)
	}
	a.release(ctx, credentialID, platform)
	a.logger.Info("slot disconnected", "credential", credentialID, "platform", platform)
	return nil
}
