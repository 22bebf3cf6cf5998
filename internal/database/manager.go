package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// SQLite driver, referenced only through the connection string.
	_ "github.com/mattn/go-sqlite3"

	"relaygate/pkg/interfaces"
)

// Manager is the SQLite-backed credential store. Lookups happen on every
// authentication; writes are rare administrative operations (provisioning
// and revoking API keys), so the connection pool is tuned for reads.
type Manager struct {
	db *sql.DB
}

// NewManager opens (or creates) the credential database and bootstraps the
// schema. WAL mode keeps concurrent readers off the writer's back.
func NewManager(path string, timeout time.Duration) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(timeout)
	db.SetConnMaxIdleTime(timeout / 3)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to bootstrap credential schema: %w", err)
	}

	return &Manager{db: db}, nil
}

var _ interfaces.CredentialStore = (*Manager)(nil)

// Lookup resolves an API key. Unknown keys return ErrCredentialNotFound,
// never a bare sql error, so callers can treat it as a normal miss.
func (m *Manager) Lookup(ctx context.Context, apiKey string) (*interfaces.Credential, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT api_key, user_id, role, created_at FROM credentials WHERE api_key = ?`, apiKey)

	var cred interfaces.Credential
	if err := row.Scan(&cred.APIKey, &cred.UserID, &cred.Role, &cred.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}
	return &cred, nil
}

// Upsert inserts a credential or updates the identity behind an existing key.
func (m *Manager) Upsert(ctx context.Context, cred *interfaces.Credential) error {
	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO credentials (api_key, user_id, role, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(api_key) DO UPDATE SET user_id = excluded.user_id, role = excluded.role`,
		cred.APIKey, cred.UserID, cred.Role, createdAt)
	if err != nil {
		return fmt.Errorf("credential upsert failed: %w", err)
	}
	return nil
}

// Delete removes a credential. Deleting an unknown key is a no-op.
func (m *Manager) Delete(ctx context.Context, apiKey string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM credentials WHERE api_key = ?`, apiKey); err != nil {
		return fmt.Errorf("credential delete failed: %w", err)
	}
	return nil
}

// List returns every provisioned credential, newest first.
func (m *Manager) List(ctx context.Context) ([]*interfaces.Credential, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT api_key, user_id, role, created_at FROM credentials ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("credential list failed: %w", err)
	}
	defer rows.Close()

	var creds []*interfaces.Credential
	for rows.Next() {
		var cred interfaces.Credential
		if err := rows.Scan(&cred.APIKey, &cred.UserID, &cred.Role, &cred.CreatedAt); err != nil {
			return nil, fmt.Errorf("credential scan failed: %w", err)
		}
		creds = append(creds, &cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credential iteration failed: %w", err)
	}
	return creds, nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}
