package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims is the subset of OpenID Connect ID token claims this client
// inspects. Claims are extracted without signature verification: the token
// arrived over TLS directly from the token endpoint, and key-set fetching
// is out of scope here.
type IDTokenClaims struct {
	Issuer   string
	Subject  string
	Audience []string
	Nonce    string
	Expiry   time.Time
}

type idTokenClaims struct {
	Nonce string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// ParseIDTokenClaims decodes the claims of a raw ID token.
func ParseIDTokenClaims(raw string) (*IDTokenClaims, error) {
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, &Error{Op: "exchange", Kind: KindMalformedResponse, Detail: "undecodable id_token", Err: err}
	}

	out := &IDTokenClaims{
		Issuer:   claims.Issuer,
		Subject:  claims.Subject,
		Audience: claims.Audience,
		Nonce:    claims.Nonce,
	}
	if claims.ExpiresAt != nil {
		out.Expiry = claims.ExpiresAt.Time
	}
	return out, nil
}

// verifyIDTokenNonce checks that the ID token echoes the nonce of the
// authorization request that produced it. A mismatch means the token was
// minted for a different request and is rejected outright.
func verifyIDTokenNonce(raw, nonce string) error {
	claims, err := ParseIDTokenClaims(raw)
	if err != nil {
		return err
	}
	if claims.Nonce != nonce {
		return &Error{Op: "exchange", Kind: KindStateMismatch, Detail: "id_token nonce does not match request"}
	}
	return nil
}
