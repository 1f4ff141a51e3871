package models

import "errors"

var (
	// ErrActorRequired rejects operations with no authenticated user on the
	// context. The permission check itself belongs to the auth service.
	ErrActorRequired = errors.New("user context is required")

	// ErrAwaitingInspectionDecision blocks every mutation of an asset in
	// AwaitingReport except the two inspection-gate decisions.
	ErrAwaitingInspectionDecision = errors.New("asset is awaiting an inspection decision")

	ErrNotAwaitingReport    = errors.New("asset is not awaiting an inspection report")
	ErrTransitionNotAllowed = errors.New("transition not allowed")
	ErrAlreadyReplaced      = errors.New("asset has already been replaced")
	ErrIncomingNotEligible  = errors.New("incoming asset is not eligible as a replacement")
	ErrInvalidDestination   = errors.New("invalid destination state")
	ErrReasonTooShort       = errors.New("replacement reason is too short")
)

// RequiredFieldError names the payload field missing for the target state.
type RequiredFieldError struct {
	Field string
}

func (e *RequiredFieldError) Error() string {
	return e.Field + " is required"
}
