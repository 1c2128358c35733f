package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/collarlink/relay-server/internal/store"
)

// ErrUnknownDevice is returned when a credential verifies but its device ID
// was never provisioned.
var ErrUnknownDevice = errors.New("unknown device")

// DeviceClaims is the JWT payload of a hardware credential. Credentials are
// minted at provisioning time with the `device-token` CLI command and burned
// into the collar firmware.
type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// DeviceVerifier validates hardware credentials against the shared secret
// and, when a device store is configured, against the provisioned device set.
type DeviceVerifier struct {
	secret  []byte
	issuer  string
	devices store.DeviceStore
}

// NewDeviceVerifier builds a verifier. devices may be nil to skip the
// provisioning check (signature and issuer are always enforced).
func NewDeviceVerifier(secret []byte, issuer string, devices store.DeviceStore) *DeviceVerifier {
	return &DeviceVerifier{secret: secret, issuer: issuer, devices: devices}
}

// Verify parses and validates a device credential and returns the device ID.
func (v *DeviceVerifier) Verify(ctx context.Context, credential string) (string, error) {
	token, err := jwt.ParseWithClaims(credential, &DeviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse credential: %w", err)
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid credential claims")
	}
	if claims.DeviceID == "" {
		return "", errors.New("credential missing device id")
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return "", errors.New("invalid issuer")
	}

	if v.devices != nil {
		if _, err := v.devices.GetDevice(ctx, claims.DeviceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", ErrUnknownDevice
			}
			return "", fmt.Errorf("lookup device: %w", err)
		}
	}

	return claims.DeviceID, nil
}

// MintDeviceToken signs a credential for a provisioned device. ttl of zero
// means the credential never expires, which is the normal case for firmware.
func MintDeviceToken(secret []byte, issuer, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
