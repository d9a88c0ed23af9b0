package gate

import "errors"

var (
	ErrBadMode = errors.New("gate: bad mode")
)

// Reason is the stable machine-readable code attached to every rejection so
// an agent or UI can react programmatically instead of string-matching prose.
type Reason string

const (
	ReasonReadOnlyMode    Reason = "READ_ONLY_MODE"
	ReasonForbidden       Reason = "FORBIDDEN"
	ReasonOutOfSchedule   Reason = "OUT_OF_SCHEDULE"
	ReasonRateLimit       Reason = "RATE_LIMIT"
	ReasonConsentRequired Reason = "CONSENT_REQUIRED"
	ReasonConsentNotFound Reason = "CONSENT_NOT_FOUND"
	ReasonConsentExpired  Reason = "CONSENT_EXPIRED"
	ReasonConsentTerminal Reason = "ALREADY_TERMINAL"
)
