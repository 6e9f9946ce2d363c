package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

const channelColumns = "channel_id, title, thumbnail, platform, credential_id, status, last_active_at, created_at, updated_at"

// ChannelRepository persists channel ownership.
type ChannelRepository struct {
	db *shared.Database
}

// NewChannelRepository creates a new [ChannelRepository] with the given database connection
func NewChannelRepository(db *shared.Database) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// Upsert inserts the channel or moves an existing one to the given owner and status.
// The original creation time is kept.
func (r *ChannelRepository) Upsert(ctx context.Context, ch models.Channel) error {
	if err := ch.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = now
	}
	if ch.Status == "" {
		ch.Status = models.ChannelActive
	}

	query := r.db.Rebind(`
		INSERT INTO channels (` + channelColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			title = excluded.title,
			thumbnail = excluded.thumbnail,
			platform = excluded.platform,
			credential_id = excluded.credential_id,
			status = excluded.status,
			last_active_at = excluded.last_active_at,
			updated_at = excluded.updated_at
	`)

	_, err := r.db.ExecContext(ctx, query,
		ch.ChannelID, ch.Title, ch.Thumbnail, string(ch.Platform), ch.CredentialID, string(ch.Status),
		formatTime(ch.LastActiveAt), formatTime(ch.CreatedAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert channel: %w", err)
	}
	return nil
}

// Get retrieves a channel by its remote id.
func (r *ChannelRepository) Get(ctx context.Context, channelID string) (*models.Channel, error) {
	query := r.db.Rebind("SELECT " + channelColumns + " FROM channels WHERE channel_id = ?")
	ch, err := scanChannel(r.db.QueryRowContext(ctx, query, channelID))
	if err != nil {
		return nil, notFound(err, shared.ErrChannelNotFound, channelID, "failed to query channel")
	}
	return ch, nil
}

// List returns every channel ordered by platform and title.
func (r *ChannelRepository) List(ctx context.Context) ([]models.Channel, error) {
	return r.list(ctx, "SELECT "+channelColumns+" FROM channels ORDER BY platform, title, channel_id")
}

// ListByCredential returns the channels owned by credentialID.
func (r *ChannelRepository) ListByCredential(ctx context.Context, credentialID string) ([]models.Channel, error) {
	return r.list(ctx, "SELECT "+channelColumns+" FROM channels WHERE credential_id = ? ORDER BY platform, title, channel_id", credentialID)
}

func (r *ChannelRepository) list(ctx context.Context, query string, args ...any) ([]models.Channel, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channels: %w", err)
	}
	return channels, nil
}

// MarkDisconnected flags every channel of credentialID on platform as disconnected.
func (r *ChannelRepository) MarkDisconnected(ctx context.Context, credentialID string, platform models.Platform) error {
	query := r.db.Rebind(`
		UPDATE channels SET status = ?, updated_at = ?
		WHERE credential_id = ? AND platform = ? AND status = ?
	`)
	_, err := r.db.ExecContext(ctx, query,
		string(models.ChannelDisconnected), formatTime(time.Now()), credentialID, string(platform), string(models.ChannelActive))
	if err != nil {
		return fmt.Errorf("failed to mark channels disconnected: %w", err)
	}
	return nil
}

// Delete removes a channel from the registry.
func (r *ChannelRepository) Delete(ctx context.Context, channelID string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM channels WHERE channel_id = ?"), channelID)
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrChannelNotFound, channelID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*models.Channel, error) {
	var (
		ch                           models.Channel
		platform, status             string
		lastActive, created, updated string
	)
	if err := row.Scan(&ch.ChannelID, &ch.Title, &ch.Thumbnail, &platform, &ch.CredentialID, &status, &lastActive, &created, &updated); err != nil {
		return nil, err
	}
	ch.Platform = models.Platform(platform)
	ch.Status = models.ChannelStatus(status)

	var err error
	if ch.LastActiveAt, err = parseTime(lastActive); err != nil {
		return nil, err
	}
	if ch.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if ch.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &ch, nil
}

