package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relaygate/internal/dispatch"
	"relaygate/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is left to the deployment's edge; the protocol's
		// own gate is authentication.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Options carries the transport tuning knobs from configuration.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// Handler upgrades HTTP requests to WebSocket transports and runs one read
// pump per client. Frames from the same client are processed in arrival
// order; concurrency happens across clients.
type Handler struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	opts       Options
}

func NewHandler(reg *registry.Registry, dispatcher *dispatch.Dispatcher, opts Options) *Handler {
	return &Handler{
		registry:   reg,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// HandleWebSocket accepts a client transport. The client may pin its own
// client_id via query parameter; otherwise the server mints one. A
// duplicate ID is fatal for this connection attempt only.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	// Cheap pre-check; Register below is the authority under concurrency.
	if _, exists := h.registry.Get(clientID); exists {
		http.Error(w, "client_id already connected", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: remote=%s err=%v", r.RemoteAddr, err)
		return
	}

	wsConn := NewConnection(conn, h.opts.BufferSize, h.opts.WriteTimeout)

	client, err := h.registry.Register(clientID, wsConn, r.RemoteAddr)
	if err != nil {
		log.Printf("client registration failed: client=%s err=%v", clientID, err)
		_ = wsConn.CloseWithStatus("duplicate client id")
		return
	}

	log.Printf("client connected: client=%s remote=%s", clientID, r.RemoteAddr)
	go h.handleConnection(client, wsConn)
}

// handleConnection is the per-client task: sequential frame processing with
// ping/pong liveness, and cascading cleanup on exit: unregister triggers
// CloseAll on every tunnel the client owns.
func (h *Handler) handleConnection(client *registry.ClientConnection, wsConn *Connection) {
	defer func() {
		h.registry.Remove(client.ClientID, client)
		_ = wsConn.Close()
		log.Printf("client disconnected: client=%s", client.ClientID)
	}()

	if err := wsConn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("set read deadline failed: client=%s err=%v", client.ClientID, err)
		return
	}
	wsConn.conn.SetPongHandler(func(string) error {
		return wsConn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.opts.WriteTimeout)
				if err := wsConn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-wsConn.Done():
				return
			}
		}
	}()

	ctx := context.Background()
	for {
		messageType, data, err := wsConn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: client=%s err=%v", client.ClientID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := h.dispatcher.HandleFrame(ctx, client, data); err != nil {
			if !errors.Is(err, dispatch.ErrTooManyViolations) {
				log.Printf("frame handling aborted: client=%s err=%v", client.ClientID, err)
			}
			return
		}
	}
}
