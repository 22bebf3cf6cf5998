package registry

import "errors"

var (
	ErrNilTransport            = errors.New("transport cannot be nil")
	ErrClientAlreadyRegistered = errors.New("client ID already registered")
	ErrClientNotFound          = errors.New("client not registered")
)
