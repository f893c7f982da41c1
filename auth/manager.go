package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Manager owns the AuthState for one session. All mutations flow through
// Replace, which persists the new state and then notifies observers,
// exactly once each, before returning. Callers hold the Manager reference;
// they never write AuthState fields directly.
//
// One Manager per authenticated session. It is not a process-wide
// singleton: construct it at session start and drop it at logout.
type Manager struct {
	mu        sync.Mutex
	state     *AuthState
	store     Store
	exchanger *Exchanger
	observers []func(*AuthState)

	refreshGroup singleflight.Group
	log          zerolog.Logger
	now          func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithManagerNow sets the clock used for freshness decisions (primarily
// for testing).
func WithManagerNow(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager backed by the given store and exchanger.
func NewManager(store Store, exchanger *Exchanger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		exchanger: exchanger,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load hydrates the Manager from the store at session start. It is not a
// mutation: nothing is written back and observers are not notified.
func (m *Manager) Load() (*AuthState, error) {
	state, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.log.Debug().Bool("restored", state != nil).Msg("auth state loaded")
	return state, nil
}

// Current returns the current AuthState, or nil when there is none.
func (m *Manager) Current() *AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AddObserver registers a function invoked synchronously after every state
// change, in registration order, on the goroutine performing the change.
// The argument is nil when the state was cleared.
func (m *Manager) AddObserver(fn func(*AuthState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Replace installs a new AuthState (or clears it with nil). Replacing the
// state with the identical value is a no-op: no persistence write, no
// notification. Otherwise the state is persisted first and observers are
// notified second; if persisting fails the in-memory state is left
// untouched and no notification fires.
func (m *Manager) Replace(state *AuthState) error {
	m.mu.Lock()
	if state == m.state {
		m.mu.Unlock()
		return nil
	}

	if err := m.store.Save(state); err != nil {
		m.mu.Unlock()
		return err
	}

	m.state = state
	observers := make([]func(*AuthState), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	m.log.Debug().Bool("authorized", state.IsAuthorized()).Msg("auth state replaced")
	for _, fn := range observers {
		fn(state)
	}
	return nil
}

// UpdateWithToken installs a new token response on the current state.
func (m *Manager) UpdateWithToken(tok *TokenResponse) error {
	s := m.Current()
	if s == nil {
		return &Error{Op: "exchange", Kind: KindUnauthorized, Detail: "no auth state to update"}
	}
	return m.Replace(s.WithToken(tok))
}

// UpdateWithAuthorizationError moves the current state into its error
// condition: the grant became invalid. Last-known tokens are kept for
// diagnostics, and IsAuthorized turns false.
func (m *Manager) UpdateWithAuthorizationError(e *Error) error {
	s := m.Current()
	if s == nil {
		return nil
	}
	m.log.Warn().Str("kind", string(e.Kind)).Msg("auth state entered error condition")
	return m.Replace(s.WithAuthorizationError(e))
}

// CompleteExchange exchanges the stored authorization code for tokens.
// Used after a manual-mode authorization, where the code was kept without
// exchanging.
func (m *Manager) CompleteExchange(ctx context.Context) (*AuthState, error) {
	s := m.Current()
	if s == nil || s.LastAuthorizationRequest == nil || s.LastAuthorizationResponse == nil {
		return nil, &Error{Op: "exchange", Kind: KindUnauthorized, Detail: "no authorization response to exchange"}
	}

	req := s.LastAuthorizationRequest
	tok, err := m.exchanger.ExchangeCode(ctx, req.Configuration, req.ClientID, req.ClientSecret,
		s.LastAuthorizationResponse.Code, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		return nil, err
	}

	next := s.WithToken(tok)
	if err := m.Replace(next); err != nil {
		return nil, err
	}
	return next, nil
}

// WithFreshToken is the single gateway for anything that needs an access
// token. A fresh token is handed to action directly; a stale one triggers
// a refresh first, updating the state as a side effect. Concurrent callers
// during a refresh join the in-flight request instead of issuing their own.
// When no usable token exists, action receives a non-nil error and empty
// tokens — a token is never fabricated.
//
// action runs synchronously on the calling goroutine.
func (m *Manager) WithFreshToken(ctx context.Context, action func(accessToken, idToken string, err error)) {
	s := m.Current()

	if s == nil || s.LastTokenResponse == nil {
		action("", "", &Error{Op: "refresh", Kind: KindUnauthorized, Detail: "not authenticated"})
		return
	}
	if s.AuthorizationError != nil {
		action("", "", s.AuthorizationError)
		return
	}

	tok := s.LastTokenResponse
	if tok.fresh(m.now(), freshnessMargin) {
		action(tok.AccessToken, tok.IDToken, nil)
		return
	}
	if tok.RefreshToken == "" {
		action("", "", &Error{Op: "refresh", Kind: KindUnauthorized,
			Detail: "access token expired and no refresh token available"})
		return
	}

	v, err, _ := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx, s)
	})
	if err != nil {
		action("", "", err)
		return
	}

	fresh := v.(*TokenResponse)
	action(fresh.AccessToken, fresh.IDToken, nil)
}

// refresh performs one refresh grant and installs the outcome. invalid_grant
// is fatal: the state moves to its error condition instead of being retried.
func (m *Manager) refresh(ctx context.Context, s *AuthState) (*TokenResponse, error) {
	clientID, clientSecret := s.clientCredentials()

	m.log.Info().Msg("access token stale, refreshing")
	tok, err := m.exchanger.Refresh(ctx, s.Configuration, clientID, clientSecret, s.LastTokenResponse.RefreshToken)
	if err != nil {
		var flowErr *Error
		if errors.As(err, &flowErr) && flowErr.Kind == KindInvalidGrant {
			if updateErr := m.UpdateWithAuthorizationError(flowErr); updateErr != nil {
				m.log.Error().Err(updateErr).Msg("failed to record authorization error")
			}
		}
		return nil, err
	}

	if err := m.UpdateWithToken(tok); err != nil {
		return nil, err
	}
	return tok, nil
}
