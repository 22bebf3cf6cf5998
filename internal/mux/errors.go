package mux

import "errors"

var (
	ErrConnectionIDInUse = errors.New("connection ID already in use for this client")
	ErrConnectionUnknown = errors.New("connection unknown or closed")
	ErrNilSender         = errors.New("sender cannot be nil")
	ErrClientGone        = errors.New("client disconnected while connecting")
)
