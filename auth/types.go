package auth

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ServiceConfiguration holds a provider's endpoints as resolved by
// discovery. It is never mutated after creation.
type ServiceConfiguration struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
}

// ClientRegistration holds the client identity issued by dynamic
// registration. Created once per client install; immutable afterward.
type ClientRegistration struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// AuthorizationRequest is an authorization attempt under construction.
// Constructed fresh per attempt, never reused: state, nonce and the PKCE
// pair are single-use.
type AuthorizationRequest struct {
	Configuration    *ServiceConfiguration `json:"configuration"`
	ClientID         string                `json:"client_id"`
	ClientSecret     string                `json:"client_secret,omitempty"`
	Scopes           []string              `json:"scopes"`
	RedirectURI      string                `json:"redirect_uri"`
	ResponseType     string                `json:"response_type"`
	State            string                `json:"state"`
	Nonce            string                `json:"nonce,omitempty"`
	CodeVerifier     string                `json:"code_verifier,omitempty"`
	CodeChallenge    string                `json:"code_challenge,omitempty"`
	AdditionalParams map[string]string     `json:"additional_parameters,omitempty"`
}

// URL builds the authorization URL for the request.
func (r *AuthorizationRequest) URL() (*url.URL, error) {
	authURL, err := url.Parse(r.Configuration.AuthorizationEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	q := authURL.Query()
	q.Set("response_type", r.ResponseType)
	q.Set("client_id", r.ClientID)
	q.Set("redirect_uri", r.RedirectURI)
	q.Set("scope", strings.Join(r.Scopes, " "))
	q.Set("state", r.State)
	if r.Nonce != "" {
		q.Set("nonce", r.Nonce)
	}
	if r.CodeChallenge != "" {
		q.Set("code_challenge", r.CodeChallenge)
		q.Set("code_challenge_method", "S256")
	}
	for k, v := range r.AdditionalParams {
		q.Set(k, v)
	}
	authURL.RawQuery = q.Encode()

	return authURL, nil
}

// AuthorizationResponse is a successful interactive authorization outcome.
// State has already been matched against the request's by the time a value
// of this type exists.
type AuthorizationResponse struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// TokenResponse holds the outcome of a code or refresh exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	// ExpiresIn is the provider's relative lifetime in seconds, as received.
	ExpiresIn int `json:"expires_in,omitempty"`
	// Expiry is the absolute expiry computed at response receipt. Zero means
	// the provider sent no expires_in and the token is treated as
	// non-expiring.
	Expiry time.Time `json:"expiry,omitzero"`
}

// fresh reports whether the access token is usable at now, with a safety
// margin before the actual expiry.
func (t *TokenResponse) fresh(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return now.Add(margin).Before(t.Expiry)
}
