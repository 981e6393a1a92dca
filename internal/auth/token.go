package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"

	"tableflow/internal/models"
)

// ErrTokenExpired is the non-retryable "subscription/session expired"
// condition. Callers must stop writing and prompt the operator, never
// feed this into a retry loop.
var ErrTokenExpired = errors.New("session token expired")

// Claims carries the session identity inside the signed token.
type Claims struct {
	RestaurantID uint   `json:"restaurant_id"`
	UserID       uint   `json:"user_id"`
	Role         string `json:"role"`
	jwt.StandardClaims
}

// MintToken issues a signed session token for the given identity. Used
// by the server's session resolver and by tests.
func MintToken(secret string, restaurantID, userID uint, role models.Role, ttl time.Duration) (string, error) {
	claims := Claims{
		RestaurantID: restaurantID,
		UserID:       userID,
		Role:         string(role),
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// BindToken builds a client-side credential from a persisted or inline
// session. The client has no signing secret; it reads the role claim
// without verifying the signature and leaves real validation to the
// authority, which re-checks the token on every state-changing call.
func BindToken(restaurantID, userID uint, tokenString string) (Credential, error) {
	var claims Claims
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, &claims); err != nil {
		return Credential{}, fmt.Errorf("unreadable token: %w", err)
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return Credential{}, fmt.Errorf("unreadable token: %w", err)
	}
	cred := Credential{
		RestaurantID: restaurantID,
		UserID:       userID,
		Role:         role,
		Token:        tokenString,
	}
	if err := cred.Validate(); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// VerifyToken validates a session token and returns the credential it
// binds. Expired tokens map to ErrTokenExpired.
func VerifyToken(secret, tokenString string) (Credential, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return Credential{}, ErrTokenExpired
		}
		return Credential{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return Credential{}, fmt.Errorf("invalid token")
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return Credential{}, fmt.Errorf("invalid token: %w", err)
	}
	cred := Credential{
		RestaurantID: claims.RestaurantID,
		UserID:       claims.UserID,
		Role:         role,
		Token:        tokenString,
	}
	if err := cred.Validate(); err != nil {
		return Credential{}, fmt.Errorf("invalid token: %w", err)
	}
	return cred, nil
}
