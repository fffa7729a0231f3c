// Package auth implements the token codec: it issues and parses signed,
// expiring HS256 tokens. The codec is pure over its signing secret and keeps
// no state, so any number of goroutines may share one Codec.
//
// Rotating the secret invalidates every outstanding token, including
// persisted refresh and reset-password tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// jtiSize is the number of random bytes in a token id.
const jtiSize = 16

// Claims are the registered claims plus the token kind.
type Claims struct {
	jwt.RegisteredClaims
	Kind models.TokenKind `json:"typ"`
}

// UserID returns the subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// CodecConfig configures a Codec. Now defaults to time.Now.
type CodecConfig struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

// Codec signs and verifies tokens.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, common.ErrEmptySecret
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Codec{
		secret: secret,
		issuer: cfg.Issuer,
		now:    now,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Issue creates a token of kind for subject expiring ttl from now. The value
// carries a random jti, so two tokens are never equal even when issued in
// the same second for the same subject.
//
// JWT timestamps have second precision, so the expiry is rounded up to the
// next whole second: a token lives at least ttl and less than ttl+1s.
func (c *Codec) Issue(subject string, kind models.TokenKind, ttl time.Duration) (*models.Token, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}

	jti, err := common.MakeRandHexString(jtiSize)
	if err != nil {
		return nil, fmt.Errorf("error generating token id: %w", err)
	}

	now := c.now()
	issued := now.Truncate(time.Second)
	expires := now.Add(ttl)
	if whole := expires.Truncate(time.Second); whole.Before(expires) {
		expires = whole.Add(time.Second)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Kind: kind,
	})

	value, err := token.SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("error signing token: %w", err)
	}

	return &models.Token{
		Value:     value,
		UserID:    subject,
		Kind:      kind,
		Expires:   expires,
		CreatedAt: issued,
	}, nil
}

// Parse verifies value and checks that it is of the expected kind.
// It returns common.ErrTokenExpired, common.ErrWrongTokenKind or
// common.ErrInvalidToken.
func (c *Codec) Parse(value string, expected models.TokenKind) (*Claims, error) {
	claims := &Claims{}

	_, err := c.parser.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}
	if claims.Kind != expected {
		return nil, common.ErrWrongTokenKind
	}

	return claims, nil
}
