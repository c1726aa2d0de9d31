package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/confops/pkg/config"
)

var signingMethod = jwt.SigningMethodHS256

// Signer mints and verifies HS256 access tokens for a single issuer.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

func NewSigner(cfg config.JWTConfig) (*Signer, error) {
	switch {
	case cfg.Secret == "":
		return nil, errors.New("jwt secret is required")
	case cfg.Issuer == "":
		return nil, errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return nil, errors.New("jwt expiration minutes must be positive")
	}
	return &Signer{
		key:    []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
	}, nil
}

// TTL is the lifetime of minted access tokens.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Mint signs a token for id that expires TTL after now. An empty jti gets a
// random one.
func (s *Signer) Mint(now time.Time, id Identity, jti string) (string, error) {
	id = id.normalized()
	if err := id.check(); err != nil {
		return "", err
	}
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := Claims{
		Identity: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry.
func (s *Signer) Verify(token string) (*Claims, error) {
	return s.parse(token)
}

// VerifyExpired checks signature and issuer only, so logout and refresh can
// still name the session behind a token that has lapsed.
func (s *Signer) VerifyExpired(token string) (*Claims, error) {
	return s.parse(token, jwt.WithoutClaimsValidation())
}

func (s *Signer) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(s.issuer),
	)
	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		return nil, err
	}
	// WithoutClaimsValidation also skips the issuer check.
	if claims.Issuer != s.issuer {
		return nil, jwt.ErrTokenInvalidIssuer
	}
	if claims.ID == "" {
		return nil, errors.New("token has no session id")
	}
	return claims, nil
}
