package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultTokenTTLMinutes applies when the configured TTL is unset.
const defaultTokenTTLMinutes = 43200 // 30 days; mobile tokens are long-lived

// Claims are the household-scoped JWT claims carried by API tokens.
type Claims struct {
	jwt.RegisteredClaims
	HouseholdID string `json:"hid"`
	DeviceID    string `json:"did,omitempty"`
}

// GenerateToken creates a signed household API token. DeviceID is
// optional; when present the token is bound to that device for
// registration calls.
func GenerateToken(householdID, deviceID, secret string, ttlMinutes int) (string, error) {
	if ttlMinutes <= 0 {
		ttlMinutes = defaultTokenTTLMinutes
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   householdID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
		HouseholdID: householdID,
		DeviceID:    deviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing household token: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses a household API token. It checks the
// signature, expiry, and required fields.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.HouseholdID == "" {
		return nil, fmt.Errorf("%w: missing household id", ErrTokenInvalid)
	}
	return claims, nil
}
