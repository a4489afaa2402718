package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyVoted is returned when a voter already holds a vote record
	// for the requested vote.
	ErrAlreadyVoted = errors.New("voter has already cast a ballot in this vote")
	// ErrModulusMismatch is returned when the two share nodes report
	// different moduli at tally time.
	ErrModulusMismatch = errors.New("share nodes disagree on the modulus")
)

// GatewayError wraps a failed call to a share node. It maps to 502.
type GatewayError struct {
	Node string // "A" or "B"
	Op   string // prepare, commit, abort, snapshot
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s on node %s failed: %v", e.Op, e.Node, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
