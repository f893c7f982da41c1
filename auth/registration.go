package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/oidcflow/oidcflow/internal/httpclient"
)

// DefaultTokenEndpointAuthMethod is used when the caller does not specify
// how the client authenticates at the token endpoint.
const DefaultTokenEndpointAuthMethod = "client_secret_post"

// registrationRequest is the JSON body posted to the registration endpoint
// per RFC 7591.
type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ClientName              string   `json:"client_name,omitempty"`
}

// Registrar performs dynamic client registration. On success it seeds the
// Manager with a fresh AuthState: a new client identity invalidates any
// prior session. Whether to register at all (versus using a static client
// ID) is the caller's policy, not inferred here.
type Registrar struct {
	client     *httpclient.Client
	manager    *Manager
	clientName string
	log        zerolog.Logger
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar)

// WithRegistrarLogger sets the logger.
func WithRegistrarLogger(log zerolog.Logger) RegistrarOption {
	return func(r *Registrar) {
		r.log = log
	}
}

// WithClientName sets the client_name sent during registration.
func WithClientName(name string) RegistrarOption {
	return func(r *Registrar) {
		r.clientName = name
	}
}

// NewRegistrar creates a Registrar. manager may be nil when the caller
// manages state seeding itself.
func NewRegistrar(manager *Manager, opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		client:  httpclient.New(nil),
		manager: manager,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register registers a new client with the provider and returns its issued
// identity. redirectURIs must be non-empty; authMethod defaults to
// client_secret_post when empty.
func (r *Registrar) Register(ctx context.Context, cfg *ServiceConfiguration, redirectURIs []string, authMethod string) (*ClientRegistration, error) {
	if len(redirectURIs) == 0 {
		return nil, &Error{Op: "register", Kind: KindRejected, Detail: "at least one redirect URI is required"}
	}
	if cfg.RegistrationEndpoint == "" {
		return nil, &Error{Op: "register", Kind: KindEndpointMissing,
			Detail: "provider does not support dynamic client registration"}
	}
	if authMethod == "" {
		authMethod = DefaultTokenEndpointAuthMethod
	}

	body := registrationRequest{
		RedirectURIs:            redirectURIs,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              r.clientName,
	}

	r.log.Info().Str("endpoint", cfg.RegistrationEndpoint).Msg("registering client")

	resp, err := r.client.PostJSON(ctx, cfg.RegistrationEndpoint, body, nil)
	if err != nil {
		return nil, &Error{Op: "register", Kind: KindNetwork, Detail: "registration endpoint unreachable", Err: err}
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "register", Kind: KindRejected, Status: resp.StatusCode, Detail: resp.String()}
	}

	var reg ClientRegistration
	if err := resp.JSON(&reg); err != nil {
		return nil, &Error{Op: "register", Kind: KindRejected, Detail: "undecodable registration response", Err: err}
	}
	if reg.ClientID == "" {
		return nil, &Error{Op: "register", Kind: KindRejected, Detail: "registration response missing client_id"}
	}

	if r.manager != nil {
		if err := r.manager.Replace(NewStateFromRegistration(cfg, &reg)); err != nil {
			return nil, err
		}
	}

	r.log.Info().Str("client_id", reg.ClientID).Msg("client registered")
	return &reg, nil
}
