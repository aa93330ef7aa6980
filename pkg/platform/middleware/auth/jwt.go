package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator verifies HMAC-signed bearer tokens issued by the login service.
type JWTValidator struct {
	signingKey []byte
}

func NewJWTValidator(signingKey string) *JWTValidator {
	return &JWTValidator{signingKey: []byte(signingKey)}
}

type tokenClaims struct {
	FullName string `json:"name"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ValidateToken parses and verifies the token, returning its identity claims.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	return &Claims{
		UserID:   claims.Subject,
		FullName: claims.FullName,
		Role:     claims.Role,
	}, nil
}

// SignToken mints a token for the given identity. Used by tests and the dev
// token generator; production tokens come from the external login service.
func SignToken(signingKey, userID, fullName, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		FullName: fullName,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
		},
	})
	return token.SignedString([]byte(signingKey))
}
