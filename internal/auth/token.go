// ABOUTME: Signed connection tokens presented at the websocket handshake
// ABOUTME: HS256 tokens name the user as subject and are scoped to this server by issuer and audience

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// MinSecretLength is the minimum HS256 secret size in bytes.
	MinSecretLength = 32

	// TokenIssuer and TokenAudience are stamped on every connection token.
	// Tokens minted for anything else are refused at the handshake.
	TokenIssuer   = "coven-collab"
	TokenAudience = "collab-ws"

	// clockSkew is tolerated on exp and iat between the issuer and this node.
	clockSkew = 30 * time.Second
)

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// TokenVerifier resolves a handshake token to a user id.
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// HandshakeClaims are the claims carried by a connection token.
type HandshakeClaims struct {
	jwt.RegisteredClaims
}

// JWTVerifier issues and checks connection tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(TokenIssuer),
			jwt.WithAudience(TokenAudience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
	}, nil
}

// Verify checks a handshake token and returns the user id in its subject.
// An expired token reports ErrExpiredToken; every other rejection wraps
// ErrInvalidToken or ErrMissingClaim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims HandshakeClaims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints a connection token for userID valid for expiresIn.
func (v *JWTVerifier) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := HandshakeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
