package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Assessment sessions ───────────────────────────────────────────
	ErrAttemptsExhausted ErrCode = "ATTEMPTS_EXHAUSTED"
	ErrSessionNotActive  ErrCode = "SESSION_NOT_ACTIVE"
	ErrSessionExpired    ErrCode = "SESSION_EXPIRED"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrSubmitFailed      ErrCode = "SUBMIT_FAILED"

	// ─── Labs ──────────────────────────────────────────────────────────
	ErrRequiredSectionMissing ErrCode = "REQUIRED_SECTION_MISSING"
	ErrLabTooLarge            ErrCode = "LAB_TOO_LARGE"
	ErrLabFrozen              ErrCode = "LAB_FROZEN"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."
	case ErrSessionInvalidated:
		return "Your login session has ended. Please sign in again."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid identifier format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Assessment sessions ───────────────────────────────────────────
	case ErrAttemptsExhausted:
		return "No attempts remain for this assessment."
	case ErrSessionNotActive:
		return "This session is not in progress."
	case ErrSessionExpired:
		return "The time limit for this session has passed."
	case ErrUnknownQuestion:
		return "The question does not belong to this session."
	case ErrSubmitFailed:
		return "Submission could not be finalized. Please try again."

	// ─── Labs ──────────────────────────────────────────────────────────
	case ErrRequiredSectionMissing:
		return "One or more required lab sections are missing."
	case ErrLabTooLarge:
		return "The lab submission exceeds the maximum allowed size."
	case ErrLabFrozen:
		return "This lab has been submitted and can no longer be changed."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
