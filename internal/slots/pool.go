package slots

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/metrics"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// SlotAPI is the remote side of one credential.
type SlotAPI interface {
	TeamID(ctx context.Context) (string, error)
	ConnectURL(ctx context.Context, platform models.Platform, redirect string) (string, error)
	Disconnect(ctx context.Context, platform models.Platform) error
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// Ledger persists the usage state as one document.
type Ledger interface {
	Load(ctx context.Context) (models.LedgerState, error)
	Save(ctx context.Context, state models.LedgerState) error
}

// Instance is one credential of the pool.
type Instance struct {
	ID  string
	API SlotAPI
}

// Limits are the pool's capacity rules.
type Limits struct {
	MonthlyQuota      int
	DisplacementGrace time.Duration
	IdleThreshold     time.Duration
}

// DefaultLimits returns a quota of 100 uploads, a 5 minute grace and a 10 minute idle threshold.
func DefaultLimits() Limits {
	return Limits{MonthlyQuota: 100, DisplacementGrace: 5 * time.Minute, IdleThreshold: 10 * time.Minute}
}

// LimitsFromConfig reads the pool limits, keeping defaults for unset values.
func LimitsFromConfig(c shared.PoolConfig) Limits {
	l := DefaultLimits()
	if c.MonthlyQuota > 0 {
		l.MonthlyQuota = c.MonthlyQuota
	}
	if c.DisplacementGrace > 0 {
		l.DisplacementGrace = c.DisplacementGrace
	}
	if c.IdleThreshold > 0 {
		l.IdleThreshold = c.IdleThreshold
	}
	return l
}

// Option configures a [Pool].
type Option func(*Pool)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithLogger sets the pool's logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// Pool is the fixed, ordered set of credentials and their usage ledger.
//
// The ledger document is cached after the first load. Every mutation updates the cache and
// persists the whole document before returning.
type Pool struct {
	instances []*Instance
	ledger    Ledger
	limits    Limits
	now       func() time.Time
	logger    *log.Logger

	mu    sync.Mutex
	state models.LedgerState
}

// NewPool creates a pool over instances in the given order.
func NewPool(instances []*Instance, ledger Ledger, limits Limits, opts ...Option) *Pool {
	p := &Pool{
		instances: instances,
		ledger:    ledger,
		limits:    limits,
		now:       time.Now,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = shared.WithLogger(p.logger, "component", "pool")
	return p
}

// Instances returns the credentials in pool order.
func (p *Pool) Instances() []*Instance {
	return p.instances
}

// Instance looks a credential up by id.
func (p *Pool) Instance(id string) (*Instance, error) {
	for _, inst := range p.instances {
		if inst.ID == id {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrCredentialNotFound, id)
}

// Limits returns the pool's capacity rules.
func (p *Pool) Limits() Limits {
	return p.limits
}

// Now returns the pool clock's current time.
func (p *Pool) Now() time.Time {
	return p.now()
}

// Reload replaces the cached ledger with the persisted one.
func (p *Pool) Reload(ctx context.Context) error {
	state, err := p.ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	if state == nil {
		state = models.LedgerState{}
	}

	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	return nil
}

// Reset drops the cached ledger so the next access loads it again.
func (p *Pool) Reset() {
	p.mu.Lock()
	p.state = nil
	p.mu.Unlock()
}

func (p *Pool) loadLocked(ctx context.Context) error {
	if p.state != nil {
		return nil
	}
	state, err := p.ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	if state == nil {
		state = models.LedgerState{}
	}
	p.state = state
	return nil
}

// Snapshot returns a copy of every instance's record with the monthly rollover applied.
func (p *Pool) Snapshot(ctx context.Context) (models.LedgerState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.loadLocked(ctx); err != nil {
		return nil, err
	}

	now := p.now()
	out := make(models.LedgerState, len(p.instances))
	for _, inst := range p.instances {
		rec := p.state[inst.ID]
		if rec == nil {
			rec = models.NewUsageRecord(now)
		} else {
			rec = rec.Clone()
			rec.Rollover(now)
		}
		out[inst.ID] = rec
	}
	return out, nil
}

// update loads, mutates and persists the ledger under the pool lock.
// The cache only changes when the save succeeds.
func (p *Pool) update(ctx context.Context, fn func(state models.LedgerState, now time.Time) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.loadLocked(ctx); err != nil {
		return err
	}

	next := p.state.Clone()
	now := p.now()
	if err := fn(next, now); err != nil {
		return err
	}
	if err := p.ledger.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	p.state = next
	return nil
}

// Candidates returns, in pool order, the instances that may take a new connection on platform.
func (p *Pool) Candidates(ctx context.Context, platform models.Platform) ([]*Instance, error) {
	state, err := p.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var out []*Instance
	for _, inst := range p.instances {
		rec := state[inst.ID]
		if rec.HasQuota(p.limits.MonthlyQuota) && !rec.Connected(platform) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// FindAvailable returns the first candidate for platform, or nil when there is none.
func (p *Pool) FindAvailable(ctx context.Context, platform models.Platform) (*Instance, error) {
	cands, err := p.Candidates(ctx, platform)
	if err != nil || len(cands) == 0 {
		return nil, err
	}
	return cands[0], nil
}

// RecordUpload counts a successful publish against id and marks the channel active.
func (p *Pool) RecordUpload(ctx context.Context, id, channelID string, platform models.Platform) error {
	return p.update(ctx, func(state models.LedgerState, now time.Time) error {
		rec := state.Record(id, now)
		rec.UploadsThisMonth++
		rec.Touch(channelID, platform, now)
		metrics.UploadsThisMonth.WithLabelValues(id).Set(float64(rec.UploadsThisMonth))
		return nil
	})
}

// Touch marks channels active on id.
func (p *Pool) Touch(ctx context.Context, id string, platform models.Platform, channelIDs ...string) error {
	if len(channelIDs) == 0 {
		return nil
	}
	return p.update(ctx, func(state models.LedgerState, now time.Time) error {
		rec := state.Record(id, now)
		for _, ch := range channelIDs {
			rec.Touch(ch, platform, now)
		}
		return nil
	})
}

// SetConnected sets id's local connected flag for platform.
func (p *Pool) SetConnected(ctx context.Context, id string, platform models.Platform, connected bool) error {
	return p.update(ctx, func(state models.LedgerState, now time.Time) error {
		state.Record(id, now).SetConnected(platform, connected)
		return nil
	})
}

// Release clears id's connected flag for platform and forgets its channels there.
func (p *Pool) Release(ctx context.Context, id string, platform models.Platform) error {
	return p.update(ctx, func(state models.LedgerState, now time.Time) error {
		rec := state.Record(id, now)
		rec.SetConnected(platform, false)
		for _, ch := range rec.KnownChannels(platform) {
			rec.Forget(ch)
		}
		return nil
	})
}

// Forget drops a channel's activity from every instance.
func (p *Pool) Forget(ctx context.Context, channelID string) error {
	return p.update(ctx, func(state models.LedgerState, _ time.Time) error {
		for _, rec := range state {
			if rec != nil {
				rec.Forget(channelID)
			}
		}
		return nil
	})
}
