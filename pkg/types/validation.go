package types

// IsValidMessageType reports whether t is a member of the closed type set.
func IsValidMessageType(t string) bool {
	switch t {
	case MessageTypeAuthenticate,
		MessageTypeAuthenticateResponse,
		MessageTypeHeartbeat,
		MessageTypeHeartbeatAck,
		MessageTypeConnectTCP,
		MessageTypeConnectResponse,
		MessageTypeSendData,
		MessageTypeCloseConnection,
		MessageTypeError:
		return true
	}
	return false
}

// IsValidRole reports whether r is a configured role name.
func IsValidRole(r string) bool {
	return r == RoleAdmin || r == RolePower || r == RoleUser
}

// ValidateConnectionID enforces the client-assigned connection ID rules:
// non-empty and bounded so registry keys stay cheap.
func ValidateConnectionID(id string) error {
	if id == "" {
		return ErrMissingConnectionID
	}
	if len(id) > 64 {
		return ErrInvalidConnectionID
	}
	return nil
}

// Validate checks a CONNECT_TCP payload before it reaches the multiplexer.
func (m *ConnectTCPMessage) Validate() error {
	if err := ValidateConnectionID(m.ConnectionID); err != nil {
		return err
	}
	if m.Host == "" {
		return ErrMissingHost
	}
	if m.Port < 1 || m.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// Validate checks a SEND_DATA payload. Base64 integrity is verified
// separately by BinaryData so the error can name the encoding.
func (m *DataMessage) Validate() error {
	return ValidateConnectionID(m.ConnectionID)
}

// Validate checks a CLOSE_CONNECTION payload.
func (m *CloseConnectionMessage) Validate() error {
	return ValidateConnectionID(m.ConnectionID)
}

// Validate checks an AUTHENTICATE payload.
func (m *AuthenticateMessage) Validate() error {
	if m.Credential == "" {
		return ErrMissingCredential
	}
	return nil
}
