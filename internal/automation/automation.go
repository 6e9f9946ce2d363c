// Package automation spreads a user's uploads over a fixed cycle of publish slots.
//
// Position 0 of a cycle publishes right away, occasionally after a short random delay. Later
// positions are scheduled 2*position days out at a random time of day and stay private until
// then. When the cycle wraps, the channel it consumed is retired from the registry.
package automation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// CycleStore persists each user's cycle position.
type CycleStore interface {
	Get(ctx context.Context, userID string) (*models.AutomationCycle, error)
	Save(ctx context.Context, c models.AutomationCycle) error
}

// ChannelRetirer removes a consumed channel from the registry.
type ChannelRetirer interface {
	Delete(ctx context.Context, channelID string) error
}

// ActivityForgetter drops a channel's activity from the usage ledger.
type ActivityForgetter interface {
	Forget(ctx context.Context, channelID string) error
}

// Enqueuer accepts publish jobs.
type Enqueuer interface {
	Enqueue(job models.PublishJob) models.JobStatus
}

// Policy shapes the cycle.
type Policy struct {
	CycleLength  int
	DelayOdds    float64
	MinDelay     time.Duration
	MaxDelay     time.Duration
	EarliestHour int
	LatestHour   int
}

// DefaultPolicy is a six step cycle publishing between 08:00 and 21:59.
func DefaultPolicy() Policy {
	return Policy{
		CycleLength:  6,
		DelayOdds:    0.1,
		MinDelay:     5 * time.Minute,
		MaxDelay:     30 * time.Minute,
		EarliestHour: 8,
		LatestHour:   21,
	}
}

// PolicyFromConfig maps the automation config section to a [Policy].
func PolicyFromConfig(c shared.AutomationConfig) Policy {
	return Policy{
		CycleLength:  c.CycleLength,
		DelayOdds:    c.DelayOdds,
		MinDelay:     c.MinDelay,
		MaxDelay:     c.MaxDelay,
		EarliestHour: c.EarliestHour,
		LatestHour:   c.LatestHour,
	}
}

// Slot is when and how one position publishes.
type Slot struct {
	Position   int
	PublishAt  *time.Time
	Delay      time.Duration
	Visibility models.Visibility
}

// Immediate reports whether the slot publishes without scheduling.
func (s Slot) Immediate() bool {
	return s.PublishAt == nil
}

// Result describes one automated publish.
type Result struct {
	Slot    Slot
	Status  models.JobStatus
	Next    int
	Retired string
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithRand sets the random source; tests pass a seeded one.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rand = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = shared.WithLogger(l, "component", "automation") }
}

// Scheduler advances users through the publish cycle.
type Scheduler struct {
	mu       sync.Mutex
	cycles   CycleStore
	channels ChannelRetirer
	activity ActivityForgetter
	queue    Enqueuer
	policy   Policy
	rand     *rand.Rand
	now      func() time.Time
	logger   *log.Logger
}

// NewScheduler creates a Scheduler. activity may be nil.
func NewScheduler(cycles CycleStore, channels ChannelRetirer, activity ActivityForgetter, queue Enqueuer, policy Policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		cycles:   cycles,
		channels: channels,
		activity: activity,
		queue:    queue,
		policy:   policy,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.logger == nil {
		s.logger = shared.WithLogger(shared.NewLogger(nil), "component", "automation")
	}
	return s
}

// Plan picks the publish time for a cycle position.
func (s *Scheduler) Plan(position int, now time.Time, visibility models.Visibility) Slot {
	slot := Slot{Position: position, Visibility: visibility}
	p := s.policy

	if position == 0 {
		if p.DelayOdds > 0 && s.rand.Float64() < p.DelayOdds {
			slot.Delay = p.MinDelay
			if span := p.MaxDelay - p.MinDelay; span > 0 {
				slot.Delay += time.Duration(s.rand.Int64N(int64(span) + 1))
			}
			at := now.Add(slot.Delay)
			slot.PublishAt = &at
		}
		return slot
	}

	hour := p.EarliestHour
	if span := p.LatestHour - p.EarliestHour; span > 0 {
		hour += s.rand.IntN(span + 1)
	}
	minute := s.rand.IntN(60)

	day := now.AddDate(0, 0, 2*position)
	at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	slot.PublishAt = &at
	slot.Visibility = models.VisibilityPrivate
	return slot
}

// Next schedules job at the user's current position, enqueues it and advances the cycle.
//
// Completing the cycle retires job's channel and resets the position to 0.
func (s *Scheduler) Next(ctx context.Context, userID string, job models.PublishJob) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cycle, err := s.cycles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	length := max(s.policy.CycleLength, 1)
	position := cycle.Position % length

	now := s.now()
	slot := s.Plan(position, now, job.Visibility)
	job.PublishAt = slot.PublishAt
	job.Visibility = slot.Visibility

	res := &Result{Slot: slot, Status: s.queue.Enqueue(job)}
	s.logger.Info("automated publish queued", "user", userID, "position", position, "channel", job.ChannelID, "publish_at", slot.PublishAt)

	next := models.AutomationCycle{UserID: userID, Position: position + 1, ChannelID: job.ChannelID, UpdatedAt: now}
	if next.Position >= length {
		s.retire(ctx, job.ChannelID)
		res.Retired = job.ChannelID
		next.Position = 0
		next.ChannelID = ""
	}
	res.Next = next.Position

	if err := s.cycles.Save(ctx, next); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Scheduler) retire(ctx context.Context, channelID string) {
	if err := s.channels.Delete(ctx, channelID); err != nil && !errors.Is(err, shared.ErrChannelNotFound) {
		s.logger.Warn("failed to retire channel", "channel", channelID, "error", err)
	}
	if s.activity != nil {
		if err := s.activity.Forget(ctx, channelID); err != nil {
			s.logger.Warn("failed to forget channel activity", "channel", channelID, "error", err)
		}
	}
	s.logger.Info("cycle complete, channel retired", "channel", channelID)
}
