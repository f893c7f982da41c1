package auth

import (
	"encoding/json"
	"fmt"
	"time"
)

// stateFormatVersion identifies the persisted AuthState encoding. Bump on
// incompatible changes to the serialized shape.
const stateFormatVersion = 1

// freshnessMargin is subtracted from the access token expiry before it is
// considered stale, so a token handed to a caller is not already expired by
// the time the resource request lands.
const freshnessMargin = 30 * time.Second

// AuthState is the aggregate authorization state for one provider session:
// the last request/response of each protocol step plus the error slot.
// Values are treated as immutable; updates produce a new AuthState which is
// installed through the Manager. Whether the session is authorized is always
// derived from the fields, never stored.
type AuthState struct {
	Configuration             *ServiceConfiguration  `json:"configuration,omitempty"`
	Registration              *ClientRegistration    `json:"registration,omitempty"`
	LastAuthorizationRequest  *AuthorizationRequest  `json:"last_authorization_request,omitempty"`
	LastAuthorizationResponse *AuthorizationResponse `json:"last_authorization_response,omitempty"`
	LastTokenResponse         *TokenResponse         `json:"last_token_response,omitempty"`
	// AuthorizationError is set when the provider signalled that the grant is
	// no longer valid (invalid_grant on refresh, 401 on a resource call).
	// Distinct from an absent state: "login became invalid" rather than
	// "never logged in". Last-known tokens are kept for diagnostics.
	AuthorizationError *Error `json:"authorization_error,omitempty"`
}

// NewStateFromRegistration seeds a fresh AuthState from a registration
// response. Registration is evidence of a new client identity, so it starts
// a state rather than updating one.
func NewStateFromRegistration(cfg *ServiceConfiguration, reg *ClientRegistration) *AuthState {
	return &AuthState{
		Configuration: cfg,
		Registration:  reg,
	}
}

// NewStateFromAuthorization creates an AuthState holding an authorization
// response whose code has not been exchanged yet (manual exchange mode).
func NewStateFromAuthorization(req *AuthorizationRequest, resp *AuthorizationResponse) *AuthState {
	return &AuthState{
		Configuration:             req.Configuration,
		LastAuthorizationRequest:  req,
		LastAuthorizationResponse: resp,
	}
}

// NewStateFromTokenExchange creates an AuthState from a completed
// authorization plus its code exchange (automatic exchange mode).
func NewStateFromTokenExchange(req *AuthorizationRequest, resp *AuthorizationResponse, tok *TokenResponse) *AuthState {
	return &AuthState{
		Configuration:             req.Configuration,
		LastAuthorizationRequest:  req,
		LastAuthorizationResponse: resp,
		LastTokenResponse:         tok,
	}
}

// IsAuthorized reports whether the session holds a usable credential: an
// unexpired access token or a refresh token, with the error slot empty.
func (s *AuthState) IsAuthorized() bool {
	if s == nil || s.AuthorizationError != nil || s.LastTokenResponse == nil {
		return false
	}
	if s.LastTokenResponse.fresh(time.Now(), freshnessMargin) {
		return true
	}
	return s.LastTokenResponse.RefreshToken != ""
}

// NeedsTokenRefresh reports whether the access token is stale at now but a
// refresh token is available.
func (s *AuthState) NeedsTokenRefresh(now time.Time) bool {
	if s == nil || s.LastTokenResponse == nil {
		return false
	}
	return !s.LastTokenResponse.fresh(now, freshnessMargin) && s.LastTokenResponse.RefreshToken != ""
}

// WithToken returns a copy of the state carrying a new token response. The
// error slot is cleared: a successful exchange re-establishes the grant.
func (s *AuthState) WithToken(tok *TokenResponse) *AuthState {
	next := *s
	next.LastTokenResponse = tok
	next.AuthorizationError = nil
	return &next
}

// WithAuthorizationError returns a copy of the state with the error slot
// set. Tokens are kept for diagnostics; IsAuthorized becomes false.
func (s *AuthState) WithAuthorizationError(e *Error) *AuthState {
	next := *s
	next.AuthorizationError = e
	return &next
}

// clientCredentials returns the client ID and secret the state was
// established with, preferring the authorization request over registration.
func (s *AuthState) clientCredentials() (id, secret string) {
	if s.LastAuthorizationRequest != nil {
		return s.LastAuthorizationRequest.ClientID, s.LastAuthorizationRequest.ClientSecret
	}
	if s.Registration != nil {
		return s.Registration.ClientID, s.Registration.ClientSecret
	}
	return "", ""
}

// persistedState is the versioned, self-describing on-disk form of an
// AuthState.
type persistedState struct {
	Version int        `json:"version"`
	State   *AuthState `json:"state"`
}

// EncodeState serializes an AuthState for persistence.
func EncodeState(s *AuthState) ([]byte, error) {
	return json.MarshalIndent(persistedState{Version: stateFormatVersion, State: s}, "", "  ")
}

// DecodeState reconstructs an AuthState from its persisted form.
func DecodeState(data []byte) (*AuthState, error) {
	var p persistedState
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse persisted auth state: %w", err)
	}
	if p.Version != stateFormatVersion {
		return nil, fmt.Errorf("unsupported auth state version %d", p.Version)
	}
	return p.State, nil
}
