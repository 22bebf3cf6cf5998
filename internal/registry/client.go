package registry

import (
	"sync"
	"time"

	"relaygate/pkg/interfaces"
)

// ClientConnection is the registry's record for one physical transport.
// The session token is held by reference only: the session lives (and
// expires) independently, so authorization re-validates the token on every
// operation instead of trusting this flag alone.
type ClientConnection struct {
	ClientID    string
	RemoteAddr  string
	ConnectedAt time.Time

	transport interfaces.Transport

	mu            sync.RWMutex
	authenticated bool
	sessionToken  string
	userID        string
	lastActivity  time.Time
	violations    int
}

// Transport returns the serialized-write handle for this client.
func (c *ClientConnection) Transport() interfaces.Transport {
	return c.transport
}

// SendMessage forwards to the transport's exclusive writer.
func (c *ClientConnection) SendMessage(v interface{}) error {
	return c.transport.SendMessage(v)
}

// Attach marks the connection authenticated with the issued token.
func (c *ClientConnection) Attach(sessionToken, userID string) {
	c.mu.Lock()
	c.authenticated = true
	c.sessionToken = sessionToken
	c.userID = userID
	c.mu.Unlock()
}

// IsAuthenticated reports whether a session token is attached. The token's
// continued validity is the authorization gate's problem.
func (c *ClientConnection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *ClientConnection) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionToken
}

func (c *ClientConnection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Touch records inbound activity for the idle sweeper.
func (c *ClientConnection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *ClientConnection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// RecordViolation counts one protocol violation and returns the new total.
func (c *ClientConnection) RecordViolation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations++
	return c.violations
}
