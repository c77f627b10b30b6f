package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by gateway-issued tokens.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed tokens. It backs the authentication
// callback when the gateway runs without an external collaborator.
type JWTVerifier struct {
	secretKey     []byte
	tokenDuration time.Duration
	issuer        string
}

func NewJWTVerifier(secretKey string, tokenDuration time.Duration) *JWTVerifier {
	if tokenDuration <= 0 {
		tokenDuration = 24 * time.Hour
	}
	return &JWTVerifier{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		issuer:        "ws-gateway",
	}
}

// Generate issues a token for userID.
func (v *JWTVerifier) Generate(userID, username, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secretKey)
}

// Verify validates the token and returns its claims
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Func adapts the verifier to an authentication callback. Invalid tokens are
// rejections, not failures.
func (v *JWTVerifier) Func() Func {
	return func(_ context.Context, req Request) (Principal, error) {
		claims, err := v.Verify(req.Credential)
		if err != nil {
			return nil, nil
		}
		return Principal{
			"sub":      claims.Subject,
			"userId":   claims.UserID,
			"username": claims.Username,
			"role":     claims.Role,
		}, nil
	}
}
