package service

import "errors"

// Sentinel errors surfaced by the session and lab services. Handlers map
// these to typed API error codes with errors.Is.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	ErrSessionNotActive  = errors.New("session is not in progress")
	ErrSessionExpired    = errors.New("session time limit has passed")
	ErrUnknownQuestion   = errors.New("question does not belong to this session")

	ErrLabFrozen              = errors.New("lab submission is frozen")
	ErrLabTooLarge            = errors.New("lab data exceeds size cap")
	ErrRequiredSectionMissing = errors.New("required section missing")
)

// IsSessionError reports whether err is one of the session sentinels whose
// message is safe to show directly to a client.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionNotActive) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrUnknownQuestion)
}
