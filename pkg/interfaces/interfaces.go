// Package interfaces defines the contracts shared across component
// boundaries so packages depend on behavior instead of concrete types.
package interfaces

import (
	"context"
	"time"
)

// Sender delivers one outbound protocol message to a client. Implementations
// must serialize writes: a single transport cannot interleave partial writes
// from concurrent sources.
type Sender interface {
	SendMessage(v interface{}) error
}

// Transport is the full handle the registry keeps for a physical client
// connection.
type Transport interface {
	Sender

	// CloseWithStatus sends a close frame with the given reason before
	// closing, so clients dropped by policy (idle timeout, repeated
	// protocol violations) learn why.
	CloseWithStatus(reason string) error

	// Close tears the transport down immediately.
	Close() error
}

// Credential is one entry of the credential table: an opaque API key mapped
// to an identity and role.
type Credential struct {
	APIKey    string    `json:"api_key"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CredentialStore resolves presented credentials. Lookup returns
// ErrCredentialNotFound for unknown keys; an invalid credential is a normal
// outcome, not an exceptional one.
type CredentialStore interface {
	Lookup(ctx context.Context, apiKey string) (*Credential, error)
	Upsert(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context, apiKey string) error
	List(ctx context.Context) ([]*Credential, error)
	Close() error
}

// Session is the server-side record backing one issued token. The
// permission set is fixed at issuance for the token's lifetime.
type Session struct {
	Token       string    `json:"token"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionStore holds issued sessions keyed by token. Reads dominate writes:
// every authorized operation consults the store, writes happen only on
// login and revoke. Delete is idempotent and permanent: tokens are
// unguessable, so a deleted token can never become valid again.
type SessionStore interface {
	Put(ctx context.Context, session *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	Close() error
}
