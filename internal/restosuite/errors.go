package restosuite

import (
	"errors"
	"fmt"
)

// Auth failure codes used in AuthError.
const (
	// AuthCodeTokenEmpty means the auth envelope came back without a token
	// or with a zero expiry.
	AuthCodeTokenEmpty = "TOKEN_EMPTY"
	// AuthCodeRequestFailed means the auth/refresh HTTP exchange itself failed.
	AuthCodeRequestFailed = "REQUEST_FAILED"
)

// UpstreamCodeNonJSON is the synthetic code assigned when the upstream body
// cannot be decoded as JSON.
const UpstreamCodeNonJSON = "NON_JSON"

// ConfigError reports missing or invalid static configuration. It is fatal
// at construction time and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("restosuite config: %s: %s", e.Field, e.Reason)
}

// AuthError reports a failed token request or refresh.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("restosuite auth: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("restosuite auth: %s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError reports a non-success response envelope from a data-fetch
// call. Detail carries the raw openapi-error-detail (or the full envelope)
// for diagnostics.
type UpstreamError struct {
	Code        string
	Message     string
	HTTPStatus  int
	Detail      string
	RateLimited bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("restosuite upstream: code=%s status=%d: %s", e.Code, e.HTTPStatus, e.Message)
}

// IsRateLimited reports whether err is an upstream token-abuse/rate-limit
// signal. Only the run coordinator is allowed to convert this into a
// non-error outcome.
func IsRateLimited(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.RateLimited
}
