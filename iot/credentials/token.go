package credentials

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// NewPasswordToken creates a RS256 signed JWT for thing, to be used as MQTT password
// with brokers that authenticate devices by token. The token is signed with the device's
// private key and expires after ttl.
func NewPasswordToken(thing, audience string, keyPEM []byte, ttl time.Duration) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return "", fmt.Errorf("cannot parse private key: %w", err)
	}
	now := time.Now()
	claims := jwt.StandardClaims{
		Subject:   thing,
		Audience:  audience,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// VerifyPasswordToken verifies a token generated with NewPasswordToken against the device
// certificate and returns the thing name of the token.
func VerifyPasswordToken(tokenString, audience string, certPEM []byte) (string, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(certPEM)
	if err != nil {
		return "", fmt.Errorf("cannot parse certificate: %w", err)
	}
	claims := jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if !claims.VerifyAudience(audience, true) {
		return "", fmt.Errorf("token audience %q does not match", claims.Audience)
	}
	return claims.Subject, nil
}
