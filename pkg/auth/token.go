package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrWeakSecret   = errors.New("auth: token secret must be at least 32 bytes")
)

// Claims are the JWT claims issued to players and staff.
type Claims struct {
	jwt.RegisteredClaims
	PlayerID string   `json:"player_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// TokenIssuer signs and verifies HS256 tokens. The signing key is derived
// from the master secret per audience, so tokens minted for one audience do
// not verify for another.
type TokenIssuer struct {
	audience string
	issuer   string
	key      []byte
	now      func() time.Time
}

// NewTokenIssuer derives the audience key with HKDF-SHA256.
func NewTokenIssuer(secret []byte, audience string) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	r := hkdf.New(sha256.New, secret, []byte("valor-token-kdf"), []byte(audience))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return &TokenIssuer{audience: audience, issuer: "valor", key: key, now: time.Now}, nil
}

// Issue signs a token for actor valid for ttl.
func (t *TokenIssuer) Issue(a Actor, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   a.ID,
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PlayerID: a.PlayerID,
		Roles:    a.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Parse validates a token and returns its actor.
func (t *TokenIssuer) Parse(token string) (Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(t.audience),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Actor{}, ErrInvalidToken
	}
	return Actor{ID: claims.Subject, PlayerID: claims.PlayerID, Roles: claims.Roles}, nil
}
