package interfaces

import "errors"

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrSessionNotFound    = errors.New("session not found")
)
