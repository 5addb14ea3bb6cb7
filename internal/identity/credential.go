package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential is returned for credentials that fail verification.
var ErrInvalidCredential = errors.New("invalid credential")

const credentialIssuer = "gemini-learner"

// Claims binds a session token to the address it was issued for.
type Claims struct {
	SessionToken string `json:"sid"`
	Origin       string `json:"addr"`
	jwt.RegisteredClaims
}

// CredentialIssuer signs and verifies realtime credentials.
type CredentialIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCredentialIssuer creates an HS256 issuer.
func NewCredentialIssuer(secret string, ttl time.Duration) *CredentialIssuer {
	return &CredentialIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed credential for token and origin.
func (c *CredentialIssuer) Issue(token, origin string) (string, error) {
	now := c.now()
	claims := Claims{
		SessionToken: token,
		Origin:       origin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   credentialIssuer,
			Subject:  token,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Parse verifies a credential and returns its claims.
func (c *CredentialIssuer) Parse(credential string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(credentialIssuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	return claims, nil
}

// Verify checks that credential was issued for token and origin.
func (c *CredentialIssuer) Verify(credential, token, origin string) error {
	claims, err := c.Parse(credential)
	if err != nil {
		return err
	}
	if claims.SessionToken != token {
		return fmt.Errorf("%w: session mismatch", ErrInvalidCredential)
	}
	if claims.Origin != origin {
		return fmt.Errorf("%w: origin mismatch", ErrInvalidCredential)
	}
	return nil
}
