// Package auth provides credential hashing, JWT issuing and verification,
// the Bearer token middleware and the role checks used by gated operations.
//
// AUTHENTICATION FLOW:
//  1. POST /api/login verifies the password and issues a signed JWT carrying
//     {userId, username, role}.
//  2. The client sends it back as "Authorization: Bearer <token>".
//  3. RequireAuth verifies the token and stores the claims in the request
//     context.
//  4. Services call RequireRole / RequireSelfOrRole with those claims.
//
// Tokens expire 24 hours after issuance. There is no refresh; an expired
// token means logging in again.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/user-manager/internal/model"
)

const (
	// TokenTTL is the fixed lifetime of an issued token.
	TokenTTL = 24 * time.Hour

	issuer = "user-manager"

	minSecretLength = 16
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
)

// Claims is the identity payload embedded in a token.
type Claims struct {
	UserID   int64      `json:"userId"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService handles JWT creation and validation with an HMAC secret.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", minSecretLength)
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// Issue creates and signs a token for the given user, valid for TokenTTL.
// The subject claim carries the user id as a decimal string.
func (s *TokenService) Issue(userID int64, username string, role model.Role) (string, error) {
	now := s.now()

	c := Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify parses and verifies a token and returns its claims.
//
// The signature, the HS256 algorithm, the issuer and the expiry are all
// checked. Pinning the algorithm with jwt.WithValidMethods stops a token
// signed with "none" or an asymmetric key from being accepted.
//
// The returned error wraps ErrTokenExpired for an expired token and
// ErrInvalidToken for everything else.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}

	if c.UserID <= 0 || c.Subject != strconv.FormatInt(c.UserID, 10) {
		return nil, fmt.Errorf("%w: subject does not match user id", ErrInvalidToken)
	}
	if !c.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}

	return c, nil
}
