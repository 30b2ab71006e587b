// ABOUTME: JWT token verification for authenticating API requests
// ABOUTME: Uses HS256 signing with a configurable secret and an org claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted HS256 secret size in bytes.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = errors.New("jwt secret too short")
)

// Role is what a token holder may do.
type Role string

const (
	RoleWidget Role = "widget"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleWidget, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// Claims are the identity fields carried by a token.
type Claims struct {
	OrgID   string
	Subject string
	Name    string
	Role    Role
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts its claims. The "org" and "sub"
// claims are required; a missing role means agent.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	if claims.OrgID, _ = mc["org"].(string); claims.OrgID == "" {
		return nil, fmt.Errorf("%w: org", ErrMissingClaim)
	}
	if claims.Subject, _ = mc["sub"].(string); claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	claims.Name, _ = mc["name"].(string)

	role, _ := mc["role"].(string)
	claims.Role = Role(role)
	if claims.Role == "" {
		claims.Role = RoleAgent
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}
	return claims, nil
}

// Generate creates a signed token for c that expires after expiresIn.
func (v *JWTVerifier) Generate(c Claims, expiresIn time.Duration) (string, error) {
	if c.OrgID == "" {
		return "", fmt.Errorf("%w: org", ErrMissingClaim)
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if c.Role == "" {
		c.Role = RoleAgent
	}
	if !c.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", c.Role)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"org":  c.OrgID,
		"sub":  c.Subject,
		"role": string(c.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}
	if c.Name != "" {
		claims["name"] = c.Name
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
