package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleDevice is the role claimed by device tokens
const RoleDevice = "device"

// JWTClaims represents the claims in a device token
type JWTClaims struct {
	DeviceID string `json:"device_id"`
	ClientID string `json:"client_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateDeviceToken mints the handshake token for a device, valid for ttl
func GenerateDeviceToken(secret []byte, deviceID, clientID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is required")
	}
	if deviceID == "" {
		return "", errors.New("device id is required")
	}

	now := time.Now()
	claims := &JWTClaims{
		DeviceID: deviceID,
		ClientID: clientID,
		Role:     RoleDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign device token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a token signed with secret and returns its claims
func ValidateToken(secret []byte, tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
