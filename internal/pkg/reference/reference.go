// Package reference issues time-limited access references for stored
// artifacts. A reference is an HS256-signed token carrying the artifact's
// storage key; it expires after the requested ttl and is the only way the
// read-side viewer reaches a payload on the filesystem backend.
package reference

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidReference = errors.New("invalid or expired reference")

type Signer struct {
	secret []byte
	maxTTL time.Duration
}

type Claims struct {
	StorageKey  string `json:"storage_key"`
	ArtifactUID string `json:"artifact_uid"`
	jwtlib.RegisteredClaims
}

func NewSigner(secret string, maxTTL time.Duration) *Signer {
	return &Signer{
		secret: []byte(secret),
		maxTTL: maxTTL,
	}
}

// Issue signs a reference for the given storage key, valid for ttl.
// A ttl of zero or above the signer's ceiling is clamped to the ceiling.
func (s *Signer) Issue(artifactUID, storageKey string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 || ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	expiresAt := time.Now().Add(ttl)

	claims := Claims{
		StorageKey:  storageKey,
		ArtifactUID: artifactUID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
		},
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Redeem validates a reference and returns its claims.
func (s *Signer) Redeem(tokenStr string) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidReference
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.StorageKey == "" {
		return nil, ErrInvalidReference
	}

	return claims, nil
}
