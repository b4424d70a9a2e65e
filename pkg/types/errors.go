package types

// Stable error codes returned in denial bodies so clients can branch on
// the reason without parsing messages.
const (
	CodeIPBlocked     = "ip_blocked"
	CodeRateLimited   = "rate_limited"
	CodeThreatBlocked = "threat_detected"
	CodeAccountLocked = "account_locked"
)

// SecurityError is produced by the pipeline when a request must be denied.
// It carries the HTTP status and a stable machine-readable code; the
// middleware renders it into the response body.
type SecurityError struct {
	StatusCode   int
	Code         string
	Reason       string
	RetryAfterMs int64
	Err          error
}

func (e *SecurityError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Code
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}
