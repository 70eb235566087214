// Package auth issues and verifies the bearer tokens that carry caller
// identity. The gateway trusts the user id and roles in a valid token.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultTokenTTL is the lifetime of tokens minted by GenerateToken.
const DefaultTokenTTL = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims identify the caller.
type Claims struct {
	UserID int64    `json:"uid"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether any of the caller's roles satisfies required.
func (c *Claims) HasRole(required Role) bool {
	return slices.ContainsFunc(c.Roles, func(r string) bool {
		return Role(r).HasPermission(required)
	})
}

// IsAdmin reports whether the caller may manage nodes and use private ones.
func (c *Claims) IsAdmin() bool {
	return slices.Contains(c.Roles, RoleAdmin.String())
}

// GenerateToken signs an HS256 token for userID and returns it with its
// expiry as a Unix timestamp.
func GenerateToken(userID int64, roles []Role, secret []byte, ttl time.Duration) (string, int64, error) {
	if userID <= 0 {
		return "", 0, fmt.Errorf("user id must be positive")
	}
	if len(secret) == 0 {
		return "", 0, fmt.Errorf("signing secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		if !r.IsValid() {
			return "", 0, fmt.Errorf("unknown role %q", r)
		}
		names = append(names, r.String())
	}

	now := time.Now()
	expires := now.Add(ttl)
	claims := &Claims{
		UserID: userID,
		Roles:  names,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires.Unix(), nil
}

// ValidateToken verifies signature and expiry and returns the claims.
func ValidateToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
