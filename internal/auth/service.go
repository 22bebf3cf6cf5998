package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"relaygate/internal/obs"
	"relaygate/pkg/interfaces"
)

// AuthResult is the outcome of one authentication attempt. Invalid
// credentials are a normal failure result, never an error return.
type AuthResult struct {
	Success      bool
	UserID       string
	Role         string
	Permissions  []string
	SessionToken string
	ExpiresAt    time.Time
	ErrorMessage string
}

// Service validates credentials, mints session tokens and answers
// authorization queries. Session state lives in a SessionStore so the
// service itself stays stateless and safe for concurrent use.
type Service struct {
	credentials interfaces.CredentialStore
	sessions    interfaces.SessionStore
	policy      Policy
	tokenTTL    time.Duration
}

// NewService wires the service with an explicit policy; no globals.
func NewService(credentials interfaces.CredentialStore, sessions interfaces.SessionStore, policy Policy, tokenTTL time.Duration) *Service {
	return &Service{
		credentials: credentials,
		sessions:    sessions,
		policy:      policy,
		tokenTTL:    tokenTTL,
	}
}

// Policy exposes the immutable policy to the dispatch layer.
func (s *Service) Policy() Policy {
	return s.policy
}

// Authenticate validates the presented credential and, on success, registers
// a new session keyed by a freshly minted token. The session's permission
// set is snapshotted from the role at issuance and never changes for that
// token's lifetime.
func (s *Service) Authenticate(ctx context.Context, credential, clientID, clientVersion string) AuthResult {
	cred, err := s.credentials.Lookup(ctx, credential)
	if err != nil {
		if !errors.Is(err, interfaces.ErrCredentialNotFound) {
			log.Printf("credential lookup failed: client=%s err=%v", clientID, err)
		}
		obs.AuthFailureTotal.Inc()
		return AuthResult{Success: false, ErrorMessage: "invalid credential"}
	}

	if !s.policy.KnownRole(cred.Role) {
		// A credential row pointing at an unconfigured role is an
		// operator mistake; fail closed rather than grant nothing-or-all.
		log.Printf("credential has unknown role: user=%s role=%s", cred.UserID, cred.Role)
		obs.AuthFailureTotal.Inc()
		return AuthResult{Success: false, ErrorMessage: "invalid credential"}
	}

	token, err := newToken()
	if err != nil {
		log.Printf("token generation failed: %v", err)
		return AuthResult{Success: false, ErrorMessage: "internal authentication error"}
	}

	now := time.Now().UTC()
	session := &interfaces.Session{
		Token:       token,
		UserID:      cred.UserID,
		Role:        cred.Role,
		Permissions: s.policy.PermissionsForRole(cred.Role),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.tokenTTL),
	}

	if err := s.sessions.Put(ctx, session); err != nil {
		log.Printf("session store put failed: user=%s err=%v", cred.UserID, err)
		return AuthResult{Success: false, ErrorMessage: "internal authentication error"}
	}

	obs.AuthSuccessTotal.Inc()
	log.Printf("session issued: user=%s role=%s client=%s version=%s expires=%s",
		cred.UserID, cred.Role, clientID, clientVersion, session.ExpiresAt.Format(time.RFC3339))

	return AuthResult{
		Success:      true,
		UserID:       cred.UserID,
		Role:         cred.Role,
		Permissions:  session.Permissions,
		SessionToken: token,
		ExpiresAt:    session.ExpiresAt,
	}
}

// Session returns the live session for a token, or nil if the token was
// never issued, was revoked, or has expired.
func (s *Service) Session(ctx context.Context, token string) *interfaces.Session {
	if token == "" {
		return nil
	}
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if !errors.Is(err, interfaces.ErrSessionNotFound) {
			log.Printf("session store get failed: %v", err)
		}
		return nil
	}
	if !time.Now().Before(session.ExpiresAt) {
		return nil
	}
	return session
}

// ValidateToken reports whether the token exists, is not revoked, and has
// not expired.
func (s *Service) ValidateToken(ctx context.Context, token string) bool {
	return s.Session(ctx, token) != nil
}

// HasPermission fails closed: false for invalid tokens and for any
// permission name outside the session's issued set.
func (s *Service) HasPermission(ctx context.Context, token, permission string) bool {
	session := s.Session(ctx, token)
	if session == nil {
		return false
	}
	for _, p := range session.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// RevokeToken permanently invalidates a token. Idempotent: revoking an
// unknown or already-revoked token is a no-op.
func (s *Service) RevokeToken(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		log.Printf("session revoke failed: %v", err)
	}
}

// newToken returns 32 bytes of crypto randomness hex encoded. Collision
// probability is negligible, so the token doubles as the session key.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
