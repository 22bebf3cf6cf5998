package dispatch

import "errors"

// ErrTooManyViolations tells the read pump to drop the transport after the
// client crossed the configured protocol-violation threshold. Individual
// violations are answered with ERROR frames and the connection stays open.
var ErrTooManyViolations = errors.New("protocol violation threshold exceeded")
