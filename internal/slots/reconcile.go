package slots

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/vidpub/internal/metrics"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// Conflict is an account found under a credential other than its recorded owner.
type Conflict struct {
	ChannelID     string
	Platform      models.Platform
	PreviousOwner string
	NewOwner      string
}

// ScanResult is what one credential's account listing produced.
type ScanResult struct {
	CredentialID string
	Channels     []models.Channel
	Conflicts    []Conflict
	Err          error
}

// Scan lists one credential's connected accounts, resolves ownership conflicts, refreshes the
// local connected flags and marks every listed channel active.
func (a *Allocator) Scan(ctx context.Context, inst *Instance) ScanResult {
	res := ScanResult{CredentialID: inst.ID}

	accounts, err := inst.API.ListAccounts(ctx)
	if err != nil {
		res.Err = fmt.Errorf("failed to list accounts for %s: %w", inst.ID, err)
		return res
	}

	res.Conflicts = a.ResolveSlotConflicts(ctx, inst, accounts)

	byPlatform := make(map[models.Platform][]string)
	for _, acc := range accounts {
		if acc.Platform.Valid() {
			byPlatform[acc.Platform] = append(byPlatform[acc.Platform], acc.ID)
		}
	}

	for _, p := range models.Platforms() {
		ids := byPlatform[p]
		if err := a.pool.SetConnected(ctx, inst.ID, p, len(ids) > 0); err != nil {
			res.Err = err
			return res
		}
		if err := a.pool.Touch(ctx, inst.ID, p, ids...); err != nil {
			res.Err = err
			return res
		}
	}

	now := a.pool.Now()
	for _, acc := range accounts {
		if acc.Platform.Valid() {
			res.Channels = append(res.Channels, acc.Channel(inst.ID, now))
		}
	}
	return res
}

// Sync scans every credential in pool order.
func (a *Allocator) Sync(ctx context.Context) []ScanResult {
	results := make([]ScanResult, 0, len(a.pool.Instances()))
	for _, inst := range a.pool.Instances() {
		res := a.Scan(ctx, inst)
		if res.Err != nil {
			a.logger.Error("scan failed", "credential", inst.ID, "error", res.Err)
		}
		results = append(results, res)
	}
	return results
}

// ResolveSlotConflicts claims the observed accounts for observer.
//
// An account whose recorded owner is another credential was connected there earlier; that
// credential's platform is disconnected. Failures are logged and do not stop the scan.
func (a *Allocator) ResolveSlotConflicts(ctx context.Context, observer *Instance, accounts []models.Account) []Conflict {
	if a.channels == nil {
		return nil
	}

	var conflicts []Conflict
	now := a.pool.Now()
	for _, acc := range accounts {
		if !acc.Platform.Valid() {
			continue
		}

		existing, err := a.channels.Get(ctx, acc.ID)
		if err != nil && !errors.Is(err, shared.ErrChannelNotFound) {
			a.logger.Error("channel lookup failed", "channel", acc.ID, "error", err)
			continue
		}

		ch := acc.Channel(observer.ID, now)
		if existing != nil {
			ch.CreatedAt = existing.CreatedAt
			if existing.CredentialID != observer.ID && existing.Status == models.ChannelActive {
				c := Conflict{ChannelID: acc.ID, Platform: acc.Platform, PreviousOwner: existing.CredentialID, NewOwner: observer.ID}
				a.evict(ctx, c)
				conflicts = append(conflicts, c)
			}
		}

		if err := a.channels.Upsert(ctx, ch); err != nil {
			a.logger.Error("failed to record channel owner", "channel", acc.ID, "credential", observer.ID, "error", err)
		}
	}
	return conflicts
}

func (a *Allocator) evict(ctx context.Context, c Conflict) {
	metrics.ConflictsTotal.WithLabelValues(string(c.Platform)).Inc()
	a.logger.Warn("slot conflict", "channel", c.ChannelID, "platform", c.Platform, "previous", c.PreviousOwner, "current", c.NewOwner)

	prev, err := a.pool.Instance(c.PreviousOwner)
	if err != nil {
		a.logger.Warn("previous owner is not in the pool", "credential", c.PreviousOwner)
		return
	}
	if err := prev.API.Disconnect(ctx, c.Platform); err != nil {
		a.logger.Error("conflict disconnect failed", "credential", prev.ID, "platform", c.Platform, "error", err)
		return
	}
	a.release(ctx, prev.ID, c.Platform)
}
