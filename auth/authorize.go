package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExchangeMode controls whether a successful authorization exchanges its
// code immediately or leaves it for a later, explicit exchange.
type ExchangeMode int

const (
	// ExchangeAuto exchanges the code as soon as the callback arrives; the
	// combined authorization and token outcome becomes the new AuthState in
	// one update.
	ExchangeAuto ExchangeMode = iota
	// ExchangeManual stores the authorization response without exchanging;
	// the caller triggers Manager.CompleteExchange separately.
	ExchangeManual
)

// AuthorizeInput describes one authorization attempt.
type AuthorizeInput struct {
	Configuration    *ServiceConfiguration
	ClientID         string
	ClientSecret     string
	Scopes           []string
	RedirectURI      string
	Mode             ExchangeMode
	AdditionalParams map[string]string
}

// Authorizer conducts the interactive authorization-code flow: it builds
// the request, hands it to the Agent, validates the returned state, and
// installs the outcome into the Manager. At most one attempt may be in
// flight at a time; on cancellation or provider error the AuthState is
// left unchanged.
type Authorizer struct {
	agent     Agent
	exchanger *Exchanger
	manager   *Manager
	log       zerolog.Logger

	mu       sync.Mutex
	inFlight bool

	// newToken generates state and nonce values; injectable for tests.
	newToken func() string
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithAuthorizerLogger sets the logger.
func WithAuthorizerLogger(log zerolog.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		a.log = log
	}
}

// WithTokenSource sets the generator for state and nonce values (primarily
// for testing).
func WithTokenSource(fn func() string) AuthorizerOption {
	return func(a *Authorizer) {
		a.newToken = fn
	}
}

// NewAuthorizer creates an Authorizer.
func NewAuthorizer(agent Agent, exchanger *Exchanger, manager *Manager, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		agent:     agent,
		exchanger: exchanger,
		manager:   manager,
		log:       zerolog.Nop(),
		newToken:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize runs one authorization attempt and returns the resulting
// AuthState. A second call while one is pending fails immediately with an
// in-progress error, without a second interactive hand-off.
func (a *Authorizer) Authorize(ctx context.Context, in AuthorizeInput) (*AuthState, error) {
	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		return nil, &Error{Op: "authorize", Kind: KindInProgress, Detail: "an authorization attempt is already in flight"}
	}
	a.inFlight = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
	}()

	if in.Configuration == nil || in.ClientID == "" || in.RedirectURI == "" {
		return nil, &Error{Op: "authorize", Kind: KindProviderError,
			Detail: "configuration, client ID and redirect URI are required"}
	}

	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, &Error{Op: "authorize", Kind: KindProviderError, Detail: "failed to generate code verifier", Err: err}
	}

	req := &AuthorizationRequest{
		Configuration:    in.Configuration,
		ClientID:         in.ClientID,
		ClientSecret:     in.ClientSecret,
		Scopes:           in.Scopes,
		RedirectURI:      in.RedirectURI,
		ResponseType:     "code",
		State:            a.newToken(),
		Nonce:            a.newToken(),
		CodeVerifier:     verifier,
		CodeChallenge:    ComputeCodeChallenge(verifier),
		AdditionalParams: in.AdditionalParams,
	}

	authURL, err := req.URL()
	if err != nil {
		return nil, &Error{Op: "authorize", Kind: KindProviderError, Detail: "failed to build authorization URL", Err: err}
	}

	a.log.Info().Str("client_id", in.ClientID).Strs("scopes", in.Scopes).Msg("starting authorization")

	result, err := a.agent.Authorize(ctx, authURL, in.RedirectURI)
	if err != nil {
		return nil, err
	}

	if result.ErrorCode != "" {
		return nil, &Error{Op: "authorize", Kind: callbackErrorKind(result.ErrorCode),
			Detail: providerErrorDetail(result)}
	}

	// The agent is untrusted: the echoed state must match the request's or
	// the response could have been injected.
	if result.State != req.State {
		a.log.Warn().Msg("authorization response state mismatch, rejecting")
		return nil, &Error{Op: "authorize", Kind: KindStateMismatch,
			Detail: "authorization response state does not match request"}
	}

	resp := &AuthorizationResponse{Code: result.Code, State: result.State}

	var state *AuthState
	switch in.Mode {
	case ExchangeManual:
		state = NewStateFromAuthorization(req, resp)
	default:
		tok, exchangeErr := a.exchanger.ExchangeCode(ctx, in.Configuration, in.ClientID, in.ClientSecret,
			resp.Code, in.RedirectURI, req.CodeVerifier)
		if exchangeErr != nil {
			return nil, exchangeErr
		}
		if tok.IDToken != "" {
			if nonceErr := verifyIDTokenNonce(tok.IDToken, req.Nonce); nonceErr != nil {
				return nil, nonceErr
			}
		}
		state = NewStateFromTokenExchange(req, resp, tok)
	}

	// A registration established earlier in the same session survives the
	// new authorization.
	if prior := a.manager.Current(); prior != nil && prior.Registration != nil {
		state.Registration = prior.Registration
	}

	if err := a.manager.Replace(state); err != nil {
		return nil, err
	}

	a.log.Info().Bool("authorized", state.IsAuthorized()).Msg("authorization complete")
	return state, nil
}

func providerErrorDetail(result *CallbackResult) string {
	if result.ErrorDescription != "" {
		return result.ErrorCode + ": " + result.ErrorDescription
	}
	return result.ErrorCode
}
