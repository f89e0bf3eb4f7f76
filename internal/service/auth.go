package service

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("admin auth is not configured")
)

// DefaultAdminTokenTTL is the lifetime of admin tokens issued by the CLI.
const DefaultAdminTokenTTL = 24 * time.Hour

// AdminPrincipal identifies the holder of a valid admin token.
type AdminPrincipal struct {
	Subject string
}

// AdminAuth issues and verifies HS256 bearer tokens that gate the admin
// routes. An AdminAuth with an empty secret is disabled.
type AdminAuth struct {
	secret []byte
}

func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret)}
}

// Enabled reports whether a signing secret is configured.
func (a *AdminAuth) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// ValidateToken verifies a bearer token and returns the admin identity.
func (a *AdminAuth) ValidateToken(tokenStr string) (*AdminPrincipal, error) {
	if !a.Enabled() {
		return nil, ErrAuthDisabled
	}
	claims := &adminClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !token.Valid || claims.Scope != adminScope {
		return nil, ErrInvalidCredentials
	}

	return &AdminPrincipal{Subject: claims.Subject}, nil
}

// IssueToken creates a signed admin token for subject.
func (a *AdminAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}
	now := time.Now()
	claims := adminClaims{
		Scope: adminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

const (
	tokenIssuer = "keydrop"
	adminScope  = "keys:admin"
)

type adminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// SecretMatches compares a presented shared secret with the expected one in
// constant time. An empty expected secret never matches.
func SecretMatches(expected, presented string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
