// Package auth identifies API callers from HS256 bearer tokens.
//
// Only identity is established here. A caller without a valid token is
// anonymous; what anonymous callers may do is decided by the caller of this
// package.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultIssuer = "cancelobject"

// Caller is the identity behind a request.
type Caller struct {
	Subject string
}

// Anonymous is the caller of an unauthenticated request.
var Anonymous = Caller{}

// IsAnonymous reports whether the caller presented no valid credentials.
func (c Caller) IsAnonymous() bool {
	return c.Subject == ""
}

// Authenticator issues and verifies operator tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. An empty secret disables
// verification: every caller is anonymous.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
}

// Enabled reports whether tokens can be verified.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Issue mints a token for subject valid for ttl.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("auth: no signing secret configured")
	}
	if subject == "" {
		return "", fmt.Errorf("auth: subject is required")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify parses token and returns its caller.
func (a *Authenticator) Verify(token string) (Caller, error) {
	if !a.Enabled() {
		return Anonymous, fmt.Errorf("auth: verification disabled")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Anonymous, fmt.Errorf("auth: %w", err)
	}
	if claims.Subject == "" {
		return Anonymous, fmt.Errorf("auth: token has no subject")
	}
	return Caller{Subject: claims.Subject}, nil
}

// FromRequest returns the caller of r. Missing or invalid credentials yield
// Anonymous.
func (a *Authenticator) FromRequest(r *http.Request) Caller {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		token = r.Header.Get("X-Api-Key")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Anonymous
	}
	caller, err := a.Verify(token)
	if err != nil {
		return Anonymous
	}
	return caller
}
