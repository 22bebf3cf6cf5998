// Package mux gives each client the illusion of multiple independent TCP
// connections carried over its single transport. Records are keyed by the
// composite (clientID, connectionID): connection IDs are client-assigned
// and scoped per client, so two clients may both use "1" without collision.
//
// The multiplexer trusts its caller to have authorized each request; the
// authorization gate sits in the dispatch layer.
package mux

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"relaygate/internal/obs"
	"relaygate/pkg/interfaces"
	"relaygate/pkg/types"
)

type connKey struct {
	clientID     string
	connectionID string
}

// conn is one multiplexed outbound TCP stream.
type conn struct {
	key      connKey
	host     string
	port     int
	socket   net.Conn
	sender   interfaces.Sender
	openedAt time.Time
	cancel   context.CancelFunc

	closeOnce sync.Once
}

func (c *conn) closeSocket() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.socket.Close()
		obs.OpenTunnels.Dec()
		obs.TunnelDurationSeconds.Observe(time.Since(c.openedAt).Seconds())
	})
}

// Multiplexer exclusively owns the (clientID, connectionID) → socket table.
type Multiplexer struct {
	mu    sync.RWMutex
	conns map[connKey]*conn

	dial           func(ctx context.Context, addr string) (net.Conn, error)
	defaultTimeout time.Duration
	readBufferSize int
}

// NewMultiplexer builds a multiplexer with the configured default connect
// timeout, applied when a CONNECT_TCP carries none.
func NewMultiplexer(defaultTimeout time.Duration, readBufferSize int) *Multiplexer {
	if readBufferSize <= 0 {
		readBufferSize = 32 * 1024
	}
	return &Multiplexer{
		conns: make(map[connKey]*conn),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "tcp", addr)
		},
		defaultTimeout: defaultTimeout,
		readBufferSize: readBufferSize,
	}
}

// Connect opens an outbound TCP socket for (clientID, connectionID) and, on
// success, starts the socket's read loop. Every inbound chunk is forwarded
// to the owning client as a SEND_DATA message through sender; the single
// reader plus the sender's exclusive writer preserve per-connection chunk
// ordering. Dial failures and timeouts are normal results for the caller to
// report, not fatal errors.
func (m *Multiplexer) Connect(ctx context.Context, clientID, connectionID, host string, port int, timeout time.Duration, sender interfaces.Sender) error {
	if sender == nil {
		return ErrNilSender
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	key := connKey{clientID: clientID, connectionID: connectionID}

	// Reserve the key before dialing so a concurrent duplicate fails fast
	// instead of racing the dial.
	reservation := &conn{
		key:      key,
		host:     host,
		port:     port,
		sender:   sender,
		openedAt: time.Now(),
	}
	m.mu.Lock()
	if _, exists := m.conns[key]; exists {
		m.mu.Unlock()
		return ErrConnectionIDInUse
	}
	m.conns[key] = reservation
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	socket, err := m.dial(dialCtx, net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		m.mu.Lock()
		delete(m.conns, key)
		m.mu.Unlock()
		obs.TunnelDialErrorsTotal.Inc()
		return fmt.Errorf("connect %s:%d: %w", host, port, err)
	}

	// The owner may have disconnected while the dial was in flight, in
	// which case CloseAll already discarded the reservation. Re-check under
	// the lock before publishing the socket: attaching it to a dead record
	// would leave an orphaned socket with a read loop nobody can cancel.
	readCtx, readCancel := context.WithCancel(context.Background())
	m.mu.Lock()
	registered, stillOurs := m.conns[key]
	if !stillOurs || registered != reservation {
		m.mu.Unlock()
		readCancel()
		_ = socket.Close()
		return ErrClientGone
	}
	reservation.socket = socket
	reservation.cancel = readCancel
	m.mu.Unlock()
	obs.OpenTunnels.Inc()

	go m.readLoop(readCtx, reservation)

	log.Printf("tunnel opened: client=%s conn=%s target=%s:%d", clientID, connectionID, host, port)
	return nil
}

// readLoop is the single reader for one outbound socket. Chunks are sent
// sequentially, so per-connection ordering is preserved end to end.
func (m *Multiplexer) readLoop(ctx context.Context, c *conn) {
	buf := make([]byte, m.readBufferSize)
	for {
		n, err := c.socket.Read(buf)
		if n > 0 {
			obs.BytesForwardedTotal.WithLabelValues("to_client").Add(float64(n))
			if sendErr := c.sender.SendMessage(types.NewDataMessage(c.key.connectionID, buf[:n])); sendErr != nil {
				break
			}
		}
		if err != nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}

	// Remote EOF or socket error. Notify the client only if the record is
	// still ours; a local Close already told (or was told by) the client.
	if m.remove(c.key, c) {
		if err := c.sender.SendMessage(types.NewCloseConnectionMessage(c.key.connectionID)); err != nil {
			log.Printf("close notify failed: client=%s conn=%s err=%v", c.key.clientID, c.key.connectionID, err)
		}
	}
	c.closeSocket()
}

// Send writes raw bytes to the identified outbound socket. Fails with
// ErrConnectionUnknown if the ID is unknown, closed, or not yet connected.
func (m *Multiplexer) Send(clientID, connectionID string, data []byte) error {
	key := connKey{clientID: clientID, connectionID: connectionID}
	m.mu.RLock()
	c, exists := m.conns[key]
	m.mu.RUnlock()
	if !exists || c.socket == nil {
		return ErrConnectionUnknown
	}

	if _, err := c.socket.Write(data); err != nil {
		// A dead socket is torn down eagerly; the read loop notifies.
		c.closeSocket()
		return fmt.Errorf("write to %s:%d failed: %w", c.host, c.port, err)
	}
	obs.BytesForwardedTotal.WithLabelValues("to_remote").Add(float64(len(data)))
	return nil
}

// Close gracefully shuts down one connection and removes its bookkeeping.
// Idempotent: closing an unknown or already-closed ID is a no-op.
func (m *Multiplexer) Close(clientID, connectionID string) {
	key := connKey{clientID: clientID, connectionID: connectionID}
	m.mu.Lock()
	c, exists := m.conns[key]
	if exists {
		delete(m.conns, key)
	}
	m.mu.Unlock()

	if exists && c.socket != nil {
		c.closeSocket()
		log.Printf("tunnel closed: client=%s conn=%s", clientID, connectionID)
	}
}

// CloseAll tears down every connection owned by a client. Called on client
// disconnect so no socket outlives its owner.
func (m *Multiplexer) CloseAll(clientID string) {
	m.mu.Lock()
	var owned []*conn
	for key, c := range m.conns {
		if key.clientID == clientID {
			owned = append(owned, c)
			delete(m.conns, key)
		}
	}
	m.mu.Unlock()

	for _, c := range owned {
		if c.socket != nil {
			c.closeSocket()
		}
	}
	if len(owned) > 0 {
		log.Printf("tunnels closed on disconnect: client=%s count=%d", clientID, len(owned))
	}
}

// Count reports how many connections a client currently owns.
func (m *Multiplexer) Count(clientID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for key := range m.conns {
		if key.clientID == clientID {
			count++
		}
	}
	return count
}

// Total reports the table size across all clients.
func (m *Multiplexer) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// remove deletes the record only if it is still the given instance.
// Returns whether this caller owned the removal.
func (m *Multiplexer) remove(key connKey, c *conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	registered, exists := m.conns[key]
	if !exists || registered != c {
		return false
	}
	delete(m.conns, key)
	return true
}
