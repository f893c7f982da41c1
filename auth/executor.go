package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/oidcflow/oidcflow/internal/httpclient"
)

// Executor issues resource requests with a fresh bearer token obtained
// through the Manager. It classifies the result and never retries: a 401
// moves the AuthState into its error condition, anything else is surfaced
// to the caller as-is.
type Executor struct {
	manager *Manager
	client  *httpclient.Client
	log     zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger.
func WithExecutorLogger(log zerolog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.log = log
	}
}

// NewExecutor creates an Executor bound to a Manager.
func NewExecutor(manager *Manager, opts ...ExecutorOption) *Executor {
	e := &Executor{
		manager: manager,
		client:  httpclient.New(nil),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do issues an authenticated request and returns the response body on 2xx.
// The access token is refreshed first when stale.
func (e *Executor) Do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var result []byte
	var callErr error

	e.manager.WithFreshToken(ctx, func(accessToken, _ string, tokenErr error) {
		if tokenErr != nil {
			callErr = tokenErr
			return
		}
		result, callErr = e.call(ctx, method, url, body, accessToken)
	})

	return result, callErr
}

// UserInfo fetches the provider's userinfo endpoint for the current
// session.
func (e *Executor) UserInfo(ctx context.Context) ([]byte, error) {
	s := e.manager.Current()
	if s == nil || s.Configuration == nil {
		return nil, &Error{Op: "call", Kind: KindUnauthorized, Detail: "not authenticated"}
	}
	if s.Configuration.UserinfoEndpoint == "" {
		return nil, &Error{Op: "call", Kind: KindEndpointMissing,
			Detail: "userinfo endpoint not declared in discovery document"}
	}
	return e.Do(ctx, http.MethodGet, s.Configuration.UserinfoEndpoint, nil)
}

func (e *Executor) call(ctx context.Context, method, url string, body []byte, accessToken string) ([]byte, error) {
	resp, err := e.client.Do(ctx, &httpclient.Request{
		Method:  method,
		URL:     url,
		Headers: map[string]string{"Authorization": "Bearer " + accessToken},
		Body:    body,
	})
	if err != nil {
		return nil, &Error{Op: "call", Kind: KindNetwork, Detail: "resource request failed", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.BodyBytes, nil

	case resp.StatusCode == http.StatusUnauthorized:
		// A 401 means the grant itself is no longer accepted, not just this
		// request. The session enters its error condition.
		callErr := &Error{Op: "call", Kind: KindUnauthorized, Status: resp.StatusCode, Detail: resp.String()}
		if updateErr := e.manager.UpdateWithAuthorizationError(callErr); updateErr != nil {
			e.log.Error().Err(updateErr).Msg("failed to record authorization error")
		}
		return nil, callErr

	default:
		return nil, &Error{Op: "call", Kind: KindServerError, Status: resp.StatusCode, Detail: resp.String()}
	}
}
