// Package dispatch routes inbound frames to their handlers behind the
// authorization gate: AUTHENTICATE bypasses the gate, everything else
// requires an attached, still-valid session holding the permission the
// policy table assigns to the message type.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"relaygate/internal/auth"
	"relaygate/internal/mux"
	"relaygate/internal/obs"
	"relaygate/internal/registry"
	"relaygate/pkg/types"
)

type handlerFunc func(ctx context.Context, client *registry.ClientConnection, env types.Envelope, raw []byte) error

// Dispatcher processes one client's frames. Frames from the same client
// arrive sequentially from its read pump; concurrency happens across
// clients, so the dispatcher itself keeps no per-frame state.
type Dispatcher struct {
	auth               *auth.Service
	registry           *registry.Registry
	tunnels            *mux.Multiplexer
	violationThreshold int

	handlers map[string]handlerFunc
}

func NewDispatcher(authSvc *auth.Service, reg *registry.Registry, tunnels *mux.Multiplexer, violationThreshold int) *Dispatcher {
	d := &Dispatcher{
		auth:               authSvc,
		registry:           reg,
		tunnels:            tunnels,
		violationThreshold: violationThreshold,
	}
	// Gated client-request types only. Server→client types deliberately
	// have no entry and count as protocol violations when received.
	d.handlers = map[string]handlerFunc{
		types.MessageTypeConnectTCP:      d.handleConnectTCP,
		types.MessageTypeSendData:        d.handleSendData,
		types.MessageTypeCloseConnection: d.handleCloseConnection,
		types.MessageTypeHeartbeat:       d.handleHeartbeat,
	}
	return d
}

// HandleFrame runs the per-message state machine. Malformed frames and
// authorization failures are answered with structured messages, never
// silent drops; only a crossed violation threshold asks the caller to close
// the transport, via ErrTooManyViolations.
func (d *Dispatcher) HandleFrame(ctx context.Context, client *registry.ClientConnection, raw []byte) error {
	client.Touch()

	env, err := types.DecodeEnvelope(raw)
	if err != nil {
		return d.protocolViolation(client, env, err)
	}

	if env.Type == types.MessageTypeAuthenticate {
		d.handleAuthenticate(ctx, client, env, raw)
		return nil
	}

	handler, gated := d.handlers[env.Type]
	if !gated {
		return d.protocolViolation(client, env, errors.New("message type not accepted from clients"))
	}

	if !client.IsAuthenticated() {
		obs.AuthzDeniedTotal.Inc()
		d.sendError(client, "authentication required", env.MessageID)
		return nil
	}

	// The session is held by weak reference: re-validate on every frame so
	// revocation and expiry fail closed immediately.
	token := client.SessionToken()
	if !d.auth.ValidateToken(ctx, token) {
		obs.AuthzDeniedTotal.Inc()
		d.sendError(client, "session expired or revoked", env.MessageID)
		return nil
	}

	required, ok := d.auth.Policy().RequiredPermission(env.Type)
	if !ok {
		// A handler without a policy entry means the tables drifted apart;
		// fail closed with a reason that names the real problem.
		obs.AuthzDeniedTotal.Inc()
		d.sendError(client, "no permission mapped for message type "+env.Type, env.MessageID)
		return nil
	}
	if !d.auth.HasPermission(ctx, token, required) {
		obs.AuthzDeniedTotal.Inc()
		d.sendError(client, "permission denied: "+required, env.MessageID)
		return nil
	}

	if err := handler(ctx, client, env, raw); err != nil {
		// Handlers convert their own domain failures into replies; an
		// error escaping here is an internal fault, reported but not fatal.
		log.Printf("handler failed: client=%s type=%s err=%v", client.ClientID, env.Type, err)
		d.sendError(client, "internal error", env.MessageID)
	}
	return nil
}

func (d *Dispatcher) handleAuthenticate(ctx context.Context, client *registry.ClientConnection, env types.Envelope, raw []byte) {
	var msg types.AuthenticateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendAuthFailure(client, "malformed authenticate payload")
		return
	}
	if err := msg.Validate(); err != nil {
		d.sendAuthFailure(client, err.Error())
		return
	}

	result := d.auth.Authenticate(ctx, msg.Credential, client.ClientID, msg.ClientVersion)
	if !result.Success {
		d.sendAuthFailure(client, result.ErrorMessage)
		return
	}

	if err := d.registry.Attach(client.ClientID, result.SessionToken, result.UserID); err != nil {
		log.Printf("attach failed: client=%s err=%v", client.ClientID, err)
		d.auth.RevokeToken(ctx, result.SessionToken)
		d.sendAuthFailure(client, "internal authentication error")
		return
	}

	expiresAt := result.ExpiresAt
	reply := &types.AuthenticateResponseMessage{
		Envelope:     types.NewEnvelope(types.MessageTypeAuthenticateResponse),
		Success:      true,
		SessionToken: result.SessionToken,
		ExpiresAt:    &expiresAt,
		UserInfo: &types.UserInfo{
			UserID:      result.UserID,
			Role:        result.Role,
			Permissions: result.Permissions,
		},
	}
	if err := client.SendMessage(reply); err != nil {
		log.Printf("auth response send failed: client=%s err=%v", client.ClientID, err)
	}
}

func (d *Dispatcher) handleConnectTCP(ctx context.Context, client *registry.ClientConnection, env types.Envelope, raw []byte) error {
	var msg types.ConnectTCPMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(client, "malformed connect payload", env.MessageID)
		return nil
	}
	if err := msg.Validate(); err != nil {
		d.sendConnectResult(client, msg.ConnectionID, err)
		return nil
	}
	if err := d.auth.Policy().AllowDial(msg.Host, msg.Port); err != nil {
		d.sendConnectResult(client, msg.ConnectionID, err)
		return nil
	}

	timeout := time.Duration(msg.TimeoutMs) * time.Millisecond
	err := d.tunnels.Connect(ctx, client.ClientID, msg.ConnectionID, msg.Host, msg.Port, timeout, client)
	// Dial failures, timeouts and duplicate IDs are normal results tied to
	// this connectionId; the client may retry with a new ID.
	d.sendConnectResult(client, msg.ConnectionID, err)
	return nil
}

func (d *Dispatcher) handleSendData(_ context.Context, client *registry.ClientConnection, env types.Envelope, raw []byte) error {
	var msg types.DataMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(client, "malformed data payload", env.MessageID)
		return nil
	}
	if err := msg.Validate(); err != nil {
		d.sendError(client, err.Error(), env.MessageID)
		return nil
	}
	data, err := msg.BinaryData()
	if err != nil {
		d.sendError(client, err.Error(), env.MessageID)
		return nil
	}
	if err := d.tunnels.Send(client.ClientID, msg.ConnectionID, data); err != nil {
		d.sendError(client, err.Error(), env.MessageID)
	}
	return nil
}

func (d *Dispatcher) handleCloseConnection(_ context.Context, client *registry.ClientConnection, env types.Envelope, raw []byte) error {
	var msg types.CloseConnectionMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(client, "malformed close payload", env.MessageID)
		return nil
	}
	if err := msg.Validate(); err != nil {
		d.sendError(client, err.Error(), env.MessageID)
		return nil
	}
	// Close is idempotent: closing an unknown ID is not an error.
	d.tunnels.Close(client.ClientID, msg.ConnectionID)
	return nil
}

func (d *Dispatcher) handleHeartbeat(_ context.Context, client *registry.ClientConnection, _ types.Envelope, raw []byte) error {
	var msg types.HeartbeatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		// Envelope already decoded; a bad payload still counts as a beat.
		log.Printf("heartbeat payload ignored: client=%s err=%v", client.ClientID, err)
	}
	ack := &types.HeartbeatAckMessage{
		Envelope:   types.NewEnvelope(types.MessageTypeHeartbeatAck),
		ServerTime: time.Now().UTC(),
	}
	return client.SendMessage(ack)
}

// protocolViolation answers with an ERROR frame and counts the strike.
// The transport survives until the threshold is crossed.
func (d *Dispatcher) protocolViolation(client *registry.ClientConnection, env types.Envelope, cause error) error {
	obs.ProtocolErrorsTotal.Inc()
	d.sendError(client, cause.Error(), env.MessageID)

	if count := client.RecordViolation(); count >= d.violationThreshold {
		log.Printf("dropping client after repeated violations: client=%s count=%d", client.ClientID, count)
		if err := client.Transport().CloseWithStatus("too many protocol violations"); err != nil {
			log.Printf("violation close failed: client=%s err=%v", client.ClientID, err)
		}
		return ErrTooManyViolations
	}
	return nil
}

func (d *Dispatcher) sendError(client *registry.ClientConnection, errText, relatedMessageID string) {
	if err := client.SendMessage(types.NewErrorMessage(errText, relatedMessageID)); err != nil {
		log.Printf("error reply send failed: client=%s err=%v", client.ClientID, err)
	}
}

func (d *Dispatcher) sendConnectResult(client *registry.ClientConnection, connectionID string, result error) {
	reply := &types.ConnectResponseMessage{
		Envelope:     types.NewEnvelope(types.MessageTypeConnectResponse),
		ConnectionID: connectionID,
		Success:      result == nil,
	}
	if result != nil {
		reply.ErrorMessage = result.Error()
	}
	if err := client.SendMessage(reply); err != nil {
		log.Printf("connect result send failed: client=%s err=%v", client.ClientID, err)
	}
}

func (d *Dispatcher) sendAuthFailure(client *registry.ClientConnection, errText string) {
	reply := &types.AuthenticateResponseMessage{
		Envelope:     types.NewEnvelope(types.MessageTypeAuthenticateResponse),
		Success:      false,
		ErrorMessage: errText,
	}
	if err := client.SendMessage(reply); err != nil {
		log.Printf("auth failure send failed: client=%s err=%v", client.ClientID, err)
	}
}
