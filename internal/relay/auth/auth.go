// Package auth validates the bearer credentials presented by tunnel
// clients and proxy callers.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"conduit/internal/relay/relayerr"
)

// Issuer is the expected token issuer
const Issuer = "conduit"

// Claims carries the validated user identity
type Claims struct {
	jwt.RegisteredClaims
}

// Validator checks HS256 bearer tokens against a shared signing secret
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for the given signing secret
func NewValidator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret must not be empty")
	}
	return &Validator{secret: []byte(secret)}, nil
}

// Validate parses and verifies a token, returning the user identity
func (v *Validator) Validate(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %s", relayerr.ErrAuthentication, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", relayerr.ErrAuthentication
	}
	return claims.Subject, nil
}

// GenerateToken mints a token for a user identity. Used by the token
// subcommand and by tests; production token issuance lives with the
// identity provider.
func (v *Validator) GenerateToken(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id must not be empty")
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// FromRequest extracts the bearer token from an HTTP request. The token
// is accepted from the Authorization header or, for WebSocket dials that
// cannot set headers, the "token" query parameter.
func FromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", fmt.Errorf("%w: malformed authorization header", relayerr.ErrAuthentication)
		}
		return parts[1], nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", fmt.Errorf("%w: missing credential", relayerr.ErrAuthentication)
}

// UserFromRequest validates the request credential and returns the
// caller's user identity
func (v *Validator) UserFromRequest(r *http.Request) (string, error) {
	token, err := FromRequest(r)
	if err != nil {
		return "", err
	}
	return v.Validate(token)
}
