package types

import (
	"errors"
	"fmt"
)

var (
	// Store errors
	ErrNotFound = errors.New("lease not found")
	ErrConflict = errors.New("lease conflict")

	// returned together with the current lease when a different, unexpired owner holds it
	ErrLeaseHeld = fmt.Errorf("%w: held by another owner", ErrConflict)

	// Request errors
	ErrMalformed = errors.New("malformed request")

	// Replication errors
	ErrNotLeader = errors.New("not the raft leader")
)
