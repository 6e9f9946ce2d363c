package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/vidpub/internal/shared"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// notFound maps sql.ErrNoRows to sentinel and passes other errors through wrapped with msg.
func notFound(err error, sentinel error, id, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Open connects to the configured database and applies pending migrations.
func Open(cfg shared.DatabaseConfig) (*shared.Database, error) {
	db, err := shared.OpenDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
