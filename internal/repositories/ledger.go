package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

const ledgerDocument = "usage_ledger"

// DocumentLedger stores the usage ledger in the documents table.
type DocumentLedger struct {
	db   *shared.Database
	name string
}

// NewDocumentLedger creates a ledger backed by the documents table.
func NewDocumentLedger(db *shared.Database) *DocumentLedger {
	return &DocumentLedger{db: db, name: ledgerDocument}
}

// Load reads the ledger; a missing row is an empty ledger.
func (l *DocumentLedger) Load(ctx context.Context) (models.LedgerState, error) {
	var body string
	err := l.db.QueryRowContext(ctx, l.db.Rebind("SELECT body FROM documents WHERE name = ?"), l.name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LedgerState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	return decodeLedger([]byte(body))
}

// Save replaces the ledger document inside a transaction.
func (l *DocumentLedger) Save(ctx context.Context, state models.LedgerState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := l.db.Rebind(`
		INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`)
	if _, err := tx.ExecContext(ctx, query, l.name, string(body), formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return tx.Commit()
}

// JSONLedger stores the usage ledger in a JSON file.
type JSONLedger struct {
	mu   sync.Mutex
	path string
}

// NewJSONLedger creates a file ledger at path, creating its directory.
func NewJSONLedger(path string) (*JSONLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &JSONLedger{path: path}, nil
}

// Load reads the file; a missing or empty file is an empty ledger.
func (l *JSONLedger) Load(context.Context) (models.LedgerState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return models.LedgerState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	return decodeLedger(data)
}

// Save writes the document to a temporary file in the same directory and renames it into place.
func (l *JSONLedger) Save(_ context.Context, state models.LedgerState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

func decodeLedger(data []byte) (models.LedgerState, error) {
	state := models.LedgerState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	for id, rec := range state {
		if rec == nil {
			delete(state, id)
			continue
		}
		if rec.Channels == nil {
			rec.Channels = map[string]models.ChannelActivity{}
		}
	}
	return state, nil
}
