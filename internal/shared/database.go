package shared

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Database is a connection pool that knows which driver it speaks to.
//
// Repositories write queries with "?" placeholders and pass them through [Database.Rebind].
type Database struct {
	*sql.DB
	Driver string
}

// NewDatabase opens a connection using the given driver.
//
// For sqlite3 the dsn is a file path or ":memory:"; an in-memory database is pinned to a single connection
// so every query sees the same schema.
func NewDatabase(driver, dsn string) (*Database, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", ErrInvalidConfig, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	return &Database{DB: db, Driver: driver}, nil
}

// OpenDatabase opens the database described by the config and applies its pool settings.
func OpenDatabase(cfg DatabaseConfig) (*Database, error) {
	db, err := NewDatabase(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	return db, nil
}

// ConfigureDatabase sets connection pool settings for the database.
func ConfigureDatabase(db *Database, maxOpenConns, maxIdleConns int) {
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
}

// Rebind rewrites "?" placeholders into the driver's bind syntax.
func (d *Database) Rebind(query string) string {
	if d.Driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
