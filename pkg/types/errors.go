package types

import "errors"

// Wire-level errors surfaced by envelope and payload decoding.
var (
	ErrMalformedFrame      = errors.New("malformed JSON frame")
	ErrMissingType         = errors.New("message type is required")
	ErrUnknownMessageType  = errors.New("unknown message type")
	ErrInvalidDataEncoding = errors.New("data payload is not valid base64")
)

// Payload validation errors.
var (
	ErrMissingConnectionID = errors.New("connectionId is required")
	ErrInvalidConnectionID = errors.New("connectionId must be at most 64 characters")
	ErrMissingHost         = errors.New("host is required")
	ErrInvalidPort         = errors.New("port must be between 1 and 65535")
	ErrMissingCredential   = errors.New("credential is required")
)
