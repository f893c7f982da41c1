package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/oidcflow/oidcflow/internal/httpclient"
)

// wellKnownPath is the OpenID Connect discovery document location relative
// to the issuer.
const wellKnownPath = "/.well-known/openid-configuration"

// Discoverer resolves an issuer URL into a ServiceConfiguration. It keeps
// no state and never retries: the caller decides retry policy.
type Discoverer struct {
	client *httpclient.Client
	log    zerolog.Logger
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithDiscovererLogger sets the logger.
func WithDiscovererLogger(log zerolog.Logger) DiscovererOption {
	return func(d *Discoverer) {
		d.log = log
	}
}

// NewDiscoverer creates a new Discoverer.
func NewDiscoverer(opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		client: httpclient.New(nil),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover fetches the provider's discovery document and returns a
// populated ServiceConfiguration.
func (d *Discoverer) Discover(ctx context.Context, issuer string) (*ServiceConfiguration, error) {
	parsed, err := url.Parse(issuer)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, &Error{Op: "discover", Kind: KindInvalidIssuer, Detail: issuer, Err: err}
	}

	wellKnownURL := strings.TrimSuffix(issuer, "/") + wellKnownPath
	d.log.Debug().Str("url", wellKnownURL).Msg("fetching discovery document")

	resp, err := d.client.Get(ctx, wellKnownURL, nil)
	if err != nil {
		return nil, &Error{Op: "discover", Kind: KindNetwork, Detail: "failed to fetch discovery document", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Op: "discover", Kind: KindInvalidIssuer, Status: resp.StatusCode,
			Detail: "no discovery document at " + wellKnownURL}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Op: "discover", Kind: KindNetwork, Status: resp.StatusCode, Detail: resp.String()}
	}

	var cfg ServiceConfiguration
	if err := resp.JSON(&cfg); err != nil {
		return nil, &Error{Op: "discover", Kind: KindMalformedDocument, Detail: "undecodable discovery document", Err: err}
	}

	if cfg.AuthorizationEndpoint == "" {
		return nil, &Error{Op: "discover", Kind: KindMissingField, Detail: "authorization_endpoint"}
	}
	if cfg.TokenEndpoint == "" {
		return nil, &Error{Op: "discover", Kind: KindMissingField, Detail: "token_endpoint"}
	}
	if cfg.Issuer != "" && strings.TrimSuffix(cfg.Issuer, "/") != strings.TrimSuffix(issuer, "/") {
		return nil, &Error{Op: "discover", Kind: KindMalformedDocument,
			Detail: "issuer mismatch: document claims " + cfg.Issuer}
	}

	d.log.Info().Str("issuer", issuer).Msg("discovered provider configuration")
	return &cfg, nil
}
