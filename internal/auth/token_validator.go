package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// TokenValidator validates HS256 bearer tokens
type TokenValidator struct {
	jwtSecret []byte
	issuer    string
}

// NewTokenValidator creates a new token validator
func NewTokenValidator(secret, issuer string) *TokenValidator {
	return &TokenValidator{
		jwtSecret: []byte(secret),
		issuer:    issuer,
	}
}

// JWTClaims represents JWT token claims. The subject is the user id.
type JWTClaims struct {
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// ValidateJWT validates a token and returns its claims
func (tv *TokenValidator) ValidateJWT(tokenString string) (*types.UserClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if tv.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tv.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tv.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, &types.MedrexError{
			Type:    types.ErrorTypeAuthentication,
			Code:    types.ErrCodeAuthenticationFailed,
			Message: "invalid token",
			Cause:   err,
		}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, types.NewAuthenticationError(types.ErrCodeAuthenticationFailed, "invalid token claims")
	}

	role := types.UserRole(claims.Role)
	if !role.Valid() {
		return nil, types.NewAuthenticationError(types.ErrCodeAuthenticationFailed, "unknown role in token")
	}

	return &types.UserClaims{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Name:        claims.Name,
		Role:        role,
		Permissions: claims.Permissions,
	}, nil
}

// GenerateToken signs a token for user valid for ttl
func (tv *TokenValidator) GenerateToken(user types.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		Email:       user.Email,
		Name:        user.Name,
		Role:        string(user.Role),
		Permissions: user.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tv.issuer,
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tv.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// PrincipalFromClaims builds a Principal from validated claims
func PrincipalFromClaims(c *types.UserClaims) Principal {
	return NewPrincipal(&types.User{
		ID:          c.UserID,
		Email:       c.Email,
		Name:        c.Name,
		Role:        c.Role,
		Permissions: c.Permissions,
	})
}
