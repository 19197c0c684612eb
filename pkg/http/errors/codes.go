package errors

// Error codes for standardized error responses
const (
	// Validation errors
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeInvalidDate    = "invalid_date"
	ErrCodeMissingDevice  = "missing_device_id"

	// Resource errors
	ErrCodeNotFound = "not_found"

	// Round errors
	ErrCodeRoundNotReady   = "round_not_ready"
	ErrCodeSessionNotFound = "session_not_found"
	ErrCodeNotAccepting    = "not_accepting"
	ErrCodeUnknownTopic    = "unknown_topic"
	ErrCodeUnknownLevel    = "unknown_challenge_level"
	ErrCodeInvalidGuess    = "invalid_guess"

	// WebSocket errors
	ErrCodeInvalidPayload     = "invalid_payload"
	ErrCodeUnknownMessageType = "unknown_message_type"

	// Server errors
	ErrCodeInternalError      = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeUpstreamError      = "upstream_error"
)
