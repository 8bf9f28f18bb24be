package campaign

import "errors"

// Sentinel errors for lifecycle commands. Precondition errors are surfaced
// synchronously to the caller with no state mutated.
var (
	ErrNotFound           = errors.New("campaign not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNoEmailSteps       = errors.New("campaign has no email steps")
	ErrNoEligibleAccount  = errors.New("no active verified sending account")
	ErrNoPendingProspects = errors.New("campaign has no pending prospects")
)
