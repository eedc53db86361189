package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateIssuer = "simple-fittrack"

// stateClaims binds a redirect sign-in to the client session that started it.
type stateClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// signState returns a signed, expiring OAuth state value carrying sid and nonce.
func signState(key []byte, sid, nonce string, ttl time.Duration, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", errors.New("state signing key is required")
	}
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			Subject:   sid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Nonce: nonce,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// parseState validates a state value and returns its sid and nonce.
func parseState(key []byte, state string) (sid, nonce string, err error) {
	claims := &stateClaims{}
	_, err = jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", "", fmt.Errorf("invalid state: %w", err)
	}
	if claims.Subject == "" || claims.Nonce == "" {
		return "", "", errors.New("invalid state: missing session or nonce")
	}
	return claims.Subject, claims.Nonce, nil
}

// randomString returns a URL-safe random string built from n random bytes.
func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
