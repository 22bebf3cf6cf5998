package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"relaygate/internal/obs"
	"relaygate/pkg/interfaces"
)

// TunnelCloser is the slice of the multiplexer the registry needs for
// cascading cleanup when a client goes away.
type TunnelCloser interface {
	CloseAll(clientID string)
}

// Registry exclusively owns ClientConnection records, keyed by client ID.
// Lookups happen on every inbound frame, so the map is RWMutex-guarded and
// reads never block each other.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*ClientConnection
	tunnels TunnelCloser
}

func NewRegistry(tunnels TunnelCloser) *Registry {
	return &Registry{
		clients: make(map[string]*ClientConnection),
		tunnels: tunnels,
	}
}

// Register creates an unauthenticated record for a fresh transport. A
// duplicate client ID is a fatal protocol error for that connection attempt.
func (r *Registry) Register(clientID string, transport interfaces.Transport, remoteAddr string) (*ClientConnection, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}

	now := time.Now()
	client := &ClientConnection{
		ClientID:     clientID,
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		transport:    transport,
		lastActivity: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[clientID]; exists {
		return nil, ErrClientAlreadyRegistered
	}
	r.clients[clientID] = client
	obs.ActiveClients.Inc()
	return client, nil
}

// Attach marks a registered client authenticated with its session token.
func (r *Registry) Attach(clientID, sessionToken, userID string) error {
	r.mu.RLock()
	client, exists := r.clients[clientID]
	r.mu.RUnlock()
	if !exists {
		return ErrClientNotFound
	}
	client.Attach(sessionToken, userID)
	return nil
}

func (r *Registry) Get(clientID string) (*ClientConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, exists := r.clients[clientID]
	return client, exists
}

// GetAll snapshots every record for diagnostics.
func (r *Registry) GetAll() []*ClientConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*ClientConnection, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Remove discards a client record after cascading close of every
// multiplexed connection it owns. Idempotent, and identity-checked so a
// stale teardown cannot remove a newer registration under the same ID.
func (r *Registry) Remove(clientID string, client *ClientConnection) {
	r.mu.Lock()
	registered, exists := r.clients[clientID]
	if !exists || (client != nil && registered != client) {
		r.mu.Unlock()
		return
	}
	delete(r.clients, clientID)
	r.mu.Unlock()

	// Cascade before the record is forgotten: no orphaned sockets.
	if r.tunnels != nil {
		r.tunnels.CloseAll(clientID)
	}
	obs.ActiveClients.Dec()
}

// Touch updates a client's activity timestamp.
func (r *Registry) Touch(clientID string) {
	r.mu.RLock()
	client, exists := r.clients[clientID]
	r.mu.RUnlock()
	if exists {
		client.Touch()
	}
}

// Stats reports registry counters for diagnostics.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	authenticated := 0
	for _, client := range r.clients {
		if client.IsAuthenticated() {
			authenticated++
		}
	}
	return map[string]int{
		"total_clients":         len(r.clients),
		"authenticated_clients": authenticated,
	}
}

// StartSweeper closes clients idle beyond idleTimeout, checking every
// interval, until ctx is cancelled. A close frame goes out first so the
// client learns why it was dropped.
func (r *Registry) StartSweeper(ctx context.Context, idleTimeout, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweepIdle(idleTimeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Registry) sweepIdle(idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	r.mu.RLock()
	var idle []*ClientConnection
	for _, client := range r.clients {
		if client.LastActivity().Before(cutoff) {
			idle = append(idle, client)
		}
	}
	r.mu.RUnlock()

	for _, client := range idle {
		log.Printf("closing idle client: client=%s last_activity=%s",
			client.ClientID, client.LastActivity().Format(time.RFC3339))
		if err := client.transport.CloseWithStatus("idle timeout"); err != nil {
			log.Printf("idle close failed: client=%s err=%v", client.ClientID, err)
		}
		r.Remove(client.ClientID, client)
	}
}
