// Package auth issues and verifies the role tokens operator tooling uses to
// act as a principal (owner, employer, oracle or auditor) against the
// payroll services.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried by operator tokens.
const (
	RoleOwner    = "owner"
	RoleEmployer = "employer"
	RoleOracle   = "oracle"
	RoleAuditor  = "auditor"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Claims binds a principal address and a role to a standard expiring JWT.
type Claims struct {
	jwt.RegisteredClaims
	Address string `json:"address"`
	Role    string `json:"role"`
}

// GenerateToken mints an HS256 token for the given address and role.
func GenerateToken(address, role string, secret []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		Address: address,
		Role:    role,
	})

	return token.SignedString(secret)
}

// ParseToken verifies a token and returns the address and role it carries.
func ParseToken(tokenString string, secret []byte) (address, role string, err error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return "", "", ErrInvalidToken
	}
	if !token.Valid {
		return "", "", ErrInvalidToken
	}

	return claims.Address, claims.Role, nil
}
