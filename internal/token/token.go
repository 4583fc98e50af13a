// Package token issues and verifies principal credentials. Signed
// credentials are HS256 JWTs carrying the tenant they were issued for;
// opaque credentials are looked up by their SHA-256 hash.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// MaxScopes limits the scope list so credentials stay header-sized.
const MaxScopes = 10

// Claims identifies a principal of exactly one tenant.
type Claims struct {
	TenantID    string   `json:"tenant_id"`
	PrincipalID string   `json:"principal_id"`
	Scopes      []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Generate creates a signed credential for the principal.
func Generate(tenantID, principalID string, secret []byte, ttl time.Duration) (string, error) {
	return GenerateWithScopes(tenantID, principalID, nil, secret, ttl)
}

// GenerateWithScopes creates a signed credential restricted to scopes.
func GenerateWithScopes(tenantID, principalID string, scopes []string, secret []byte, ttl time.Duration) (string, error) {
	if tenantID == "" || principalID == "" {
		return "", fmt.Errorf("tenant and principal are required")
	}
	if len(scopes) > MaxScopes {
		return "", fmt.Errorf("too many scopes: %d (max %d)", len(scopes), MaxScopes)
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("signing secret is empty")
	}

	now := time.Now()
	claims := Claims{
		TenantID:    tenantID,
		PrincipalID: principalID,
		Scopes:      scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  principalID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks the signature and expiry and returns the claims.
func Verify(tok string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !parsed.Valid || claims.TenantID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// IsSigned reports whether tok has the three-segment shape of a JWT.
func IsSigned(tok string) bool {
	return strings.Count(tok, ".") == 2
}

// Hash returns the hex SHA-256 of an opaque credential as stored on principals.
func Hash(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}
