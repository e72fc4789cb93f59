package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, issuer,
// or expiry validation.
var ErrInvalidToken = errors.New("invalid token")

// ErrInvalidAuthenticatorConfig is returned by NewAuthenticator for
// unusable configuration.
var ErrInvalidAuthenticatorConfig = errors.New("invalid authenticator config")

// Claims carries the principal inside a signed bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Capabilities []string `json:"capabilities,omitempty"`
}

// Authenticator issues and validates HMAC-signed bearer tokens.
type Authenticator struct {
	signingKey []byte
	issuer     string
}

// NewAuthenticator wires an Authenticator.
func NewAuthenticator(signingKey []byte, issuer string) (*Authenticator, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is empty", ErrInvalidAuthenticatorConfig)
	}
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer is empty", ErrInvalidAuthenticatorConfig)
	}
	return &Authenticator{signingKey: signingKey, issuer: issuer}, nil
}

// IssueToken signs a token for subject carrying the capability list.
func (authenticator *Authenticator) IssueToken(subject string, capabilities []Capability, validity time.Duration) (string, error) {
	names := make([]string, 0, len(capabilities))
	for _, capability := range capabilities {
		names = append(names, string(capability))
	}
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    authenticator.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Capabilities: names,
	})
	return token.SignedString(authenticator.signingKey)
}

// ParsePrincipal validates tokenString and returns the principal it
// carries. Only HS256 tokens from the configured issuer are accepted.
func (authenticator *Authenticator) ParsePrincipal(tokenString string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (interface{}, error) { return authenticator.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(authenticator.issuer),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	capabilities := make([]Capability, 0, len(claims.Capabilities))
	for _, name := range claims.Capabilities {
		capabilities = append(capabilities, Capability(name))
	}
	return Principal{Subject: claims.Subject, Capabilities: capabilities}, nil
}
