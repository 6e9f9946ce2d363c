package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// CycleRepository persists each user's automation position.
type CycleRepository struct {
	db *shared.Database
}

// NewCycleRepository creates a new [CycleRepository] with the given database connection
func NewCycleRepository(db *shared.Database) *CycleRepository {
	return &CycleRepository{db: db}
}

// Get returns the user's cycle; a user with no row starts at position 0.
func (r *CycleRepository) Get(ctx context.Context, userID string) (*models.AutomationCycle, error) {
	c := models.AutomationCycle{UserID: userID}
	var updated string
	query := r.db.Rebind("SELECT position, channel_id, updated_at FROM automation_cycles WHERE user_id = ?")
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&c.Position, &c.ChannelID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query automation cycle: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save stores the user's position.
func (r *CycleRepository) Save(ctx context.Context, c models.AutomationCycle) error {
	if c.UserID == "" {
		return fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	query := r.db.Rebind(`
		INSERT INTO automation_cycles (user_id, position, channel_id, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			position = excluded.position,
			channel_id = excluded.channel_id,
			updated_at = excluded.updated_at
	`)
	if _, err := r.db.ExecContext(ctx, query, c.UserID, c.Position, c.ChannelID, formatTime(c.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to save automation cycle: %w", err)
	}
	return nil
}
