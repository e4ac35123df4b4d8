package model

import "fmt"

// ErrorKind classifies provider errors.
type ErrorKind int

const (
	ErrConfig         ErrorKind = iota // misconfiguration
	ErrInvalidRequest                  // 400, bad media, malformed input
	ErrAuthentication                  // 401/403
	ErrNotFound                        // 404, unknown model
	ErrRateLimit                       // 429
	ErrTimeout                         // provider or model timeout
	ErrServer                          // 500+
	ErrContentFilter                   // blocked by safety guardrails
)

var errorKindNames = [...]string{
	ErrConfig:         "config",
	ErrInvalidRequest: "invalid_request",
	ErrAuthentication: "authentication",
	ErrNotFound:       "not_found",
	ErrRateLimit:      "rate_limit",
	ErrTimeout:        "timeout",
	ErrServer:         "server",
	ErrContentFilter:  "content_filter",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("unknown(%d)", k)
}

// Error is the package's error type.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("model [%s] %s: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("model [%s]: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
