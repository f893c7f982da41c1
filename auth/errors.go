package auth

import (
	"errors"
	"fmt"
)

// Kind classifies a flow error. Callers branch on the kind, never on the
// message text.
type Kind string

const (
	// KindNetwork represents transport failures and unexpected HTTP statuses
	// where no protocol-level classification applies.
	KindNetwork Kind = "network"
	// KindInvalidIssuer represents an issuer URL that is unusable or unknown
	// to the provider.
	KindInvalidIssuer Kind = "invalid_issuer"
	// KindMalformedDocument represents an undecodable discovery document.
	KindMalformedDocument Kind = "malformed_document"
	// KindMissingField represents a discovery document lacking a required field.
	KindMissingField Kind = "missing_field"
	// KindEndpointMissing represents an operation that needs an endpoint the
	// provider did not advertise.
	KindEndpointMissing Kind = "endpoint_missing"
	// KindRejected represents a registration request the provider refused.
	KindRejected Kind = "rejected"
	// KindStateMismatch represents a callback whose state does not echo the
	// request's. Always fatal to the attempt.
	KindStateMismatch Kind = "state_mismatch"
	// KindCancelled represents user cancellation of an interactive flow.
	KindCancelled Kind = "cancelled"
	// KindProviderError represents an error returned by the provider on the
	// authorization callback.
	KindProviderError Kind = "provider_error"
	// KindInProgress represents a second authorization attempt while one is
	// already in flight.
	KindInProgress Kind = "in_progress"
	// KindInvalidGrant represents an invalid_grant token error. During refresh
	// this is fatal to the session.
	KindInvalidGrant Kind = "invalid_grant"
	// KindInvalidClient represents an invalid_client token error.
	KindInvalidClient Kind = "invalid_client"
	// KindMalformedResponse represents an undecodable token response.
	KindMalformedResponse Kind = "malformed_response"
	// KindUnauthorized represents a 401 from a resource server, or a token
	// request against state that holds no usable token.
	KindUnauthorized Kind = "unauthorized"
	// KindServerError represents a non-2xx, non-401 resource response.
	KindServerError Kind = "server_error"
)

// Error is the structured error returned by every operation in this package.
type Error struct {
	// Op is the operation that failed: "discover", "register", "authorize",
	// "exchange", "refresh" or "call".
	Op string `json:"op"`
	// Kind classifies the failure.
	Kind Kind `json:"kind"`
	// Detail carries the provider-returned description or enough context to
	// render to an end user.
	Detail string `json:"detail,omitempty"`
	// Status is the HTTP status code, when one was received.
	Status int `json:"status,omitempty"`
	// Err is the underlying cause, if any. Not serialized.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var flowErr *Error
	if errors.As(err, &flowErr) {
		return flowErr.Kind == kind
	}
	return false
}

// tokenErrorKind maps an OAuth token endpoint error code (RFC 6749 5.2)
// to an error kind.
func tokenErrorKind(code string) Kind {
	switch code {
	case "invalid_grant":
		return KindInvalidGrant
	case "invalid_client", "unauthorized_client":
		return KindInvalidClient
	default:
		return KindProviderError
	}
}

// callbackErrorKind maps an authorization callback error code (RFC 6749
// 4.1.2.1) to an error kind. access_denied means the user declined.
func callbackErrorKind(code string) Kind {
	if code == "access_denied" {
		return KindCancelled
	}
	return KindProviderError
}
