package services

import "errors"

// Sentinel errors shared across services. Handlers map these onto HTTP
// statuses with errors.Is; anything unrecognized is reported as a 500.
var (
	// Challenge protocol
	ErrInvalidAddress   = errors.New("invalid wallet address")
	ErrNonceInvalid     = errors.New("nonce expired or already used")
	ErrSignatureInvalid = errors.New("signature verification failed")

	// Match lifecycle
	ErrMatchNotFound     = errors.New("match not found")
	ErrMatchNotOpen      = errors.New("match is not open for registration")
	ErrAlreadyRegistered = errors.New("address already has a bot in this match")
	ErrCapacityReached   = errors.New("match is full")
	ErrNotEligible       = errors.New("address has not burned enough to register")
	ErrWrongState        = errors.New("operation not allowed in current match state")
	ErrTooEarly          = errors.New("scheduled time has not been reached")
	ErrBurnContention    = errors.New("burns were claimed by a concurrent settlement")

	// Payouts
	ErrWinnerNotFound = errors.New("winner not found")
	ErrAlreadyPaid    = errors.New("winner already marked paid")
	ErrWinnersUnpaid  = errors.New("match still has unpaid winners")

	// Infrastructure
	ErrActorStopped = errors.New("match coordinator is no longer accepting operations")
	ErrUpstream     = errors.New("upstream service unavailable")
)
