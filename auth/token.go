package auth

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/oidcflow/oidcflow/internal/httpclient"
)

// oauthErrorResponse is the error body a token endpoint returns per
// RFC 6749 Section 5.2.
type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Exchanger posts grants to the token endpoint: authorization codes and
// refresh tokens. It classifies provider errors but never retries.
type Exchanger struct {
	client *httpclient.Client
	log    zerolog.Logger
	now    func() time.Time
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithExchangerLogger sets the logger.
func WithExchangerLogger(log zerolog.Logger) ExchangerOption {
	return func(e *Exchanger) {
		e.log = log
	}
}

// WithExchangerNow sets the clock used to compute token expiry (primarily
// for testing).
func WithExchangerNow(now func() time.Time) ExchangerOption {
	return func(e *Exchanger) {
		e.now = now
	}
}

// NewExchanger creates a new Exchanger.
func NewExchanger(opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		client: httpclient.New(nil),
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExchangeCode exchanges an authorization code for tokens.
func (e *Exchanger) ExchangeCode(ctx context.Context, cfg *ServiceConfiguration, clientID, clientSecret, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", clientID)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}

	return e.post(ctx, "exchange", cfg.TokenEndpoint, form)
}

// Refresh obtains a new access token using a refresh token. When the
// provider omits a rotated refresh token, the old one is carried forward.
func (e *Exchanger) Refresh(ctx context.Context, cfg *ServiceConfiguration, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	tok, err := e.post(ctx, "refresh", cfg.TokenEndpoint, form)
	if err != nil {
		return nil, err
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

func (e *Exchanger) post(ctx context.Context, op, tokenEndpoint string, form url.Values) (*TokenResponse, error) {
	receivedAt := e.now()

	resp, err := e.client.PostForm(ctx, tokenEndpoint, form, nil)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindNetwork, Detail: "token endpoint unreachable", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr oauthErrorResponse
		if jsonErr := resp.JSON(&oauthErr); jsonErr == nil && oauthErr.Error != "" {
			e.log.Warn().Str("op", op).Str("error", oauthErr.Error).Msg("token endpoint rejected grant")
			return nil, &Error{
				Op:     op,
				Kind:   tokenErrorKind(oauthErr.Error),
				Status: resp.StatusCode,
				Detail: oauthErr.ErrorDescription,
			}
		}
		return nil, &Error{Op: op, Kind: KindNetwork, Status: resp.StatusCode, Detail: resp.String()}
	}

	var tok TokenResponse
	if err := resp.JSON(&tok); err != nil {
		return nil, &Error{Op: op, Kind: KindMalformedResponse, Detail: "undecodable token response", Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &Error{Op: op, Kind: KindMalformedResponse, Detail: "token response missing access_token"}
	}

	// expires_in is relative to response receipt. Absent means the token is
	// treated as non-expiring (Expiry stays zero).
	if tok.ExpiresIn > 0 {
		tok.Expiry = receivedAt.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}

	e.log.Info().Str("op", op).Bool("has_refresh_token", tok.RefreshToken != "").Msg("token grant succeeded")
	return &tok, nil
}
