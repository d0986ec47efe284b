// Package token implements the usage-token layer of the propgate
// gateway: a compact signed credential carrying a credit balance, and
// the server-side store that is authoritative for credit consumption.
//
// The split of responsibilities is deliberate: the HMAC signature is
// the authority for tamper-resistance, the store is the authority for
// consumption. A token that verifies but has no store entry is treated
// as invalid, never as exhausted-but-usable.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var (
	// ErrTokenExpired is returned when the token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken is returned when the token is malformed or its
	// signature does not verify.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the signed claim set carried by a usage token.
type Claims struct {
	jwt.RegisteredClaims
	Credits   int    `json:"credits"`
	SessionID string `json:"session_id"`
}

// Codec issues and verifies usage tokens. Both operations are pure:
// verification never panics on malformed input, it returns a typed
// error so callers can distinguish a bad token (401) from an internal
// failure (500).
type Codec struct {
	secret []byte
}

// NewCodec creates a Codec signing with the given HS256 secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Issue creates a signed token granting the given credits, expiring
// ttl from now. The returned Claims mirror what was signed so the
// caller can persist the matching store entry.
func (c *Codec) Issue(credits int, sessionID string, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Credits:   credits,
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify parses and validates a token string. It returns
// ErrTokenExpired when the signature is good but the expiry has
// passed, and ErrInvalidToken for every other failure.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
