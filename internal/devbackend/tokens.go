package devbackend

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenConfig configures the HS256 session token issuer.
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Leeway time.Duration
	KeyID  string
}

// Claims are the session token claims. Subject and Email carry the same address.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session tokens.
type TokenIssuer struct {
	config TokenConfig
	now    func() time.Time
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.Secret) < 32 {
		return nil, errors.New("hs256 requires a secret of at least 32 bytes")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	return &TokenIssuer{config: cfg, now: time.Now}, nil
}

// Issue returns a signed token for email with a fresh jti.
func (t *TokenIssuer) Issue(email string) (string, error) {
	now := t.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    t.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if t.config.KeyID != "" {
		token.Header["kid"] = t.config.KeyID
	}
	return token.SignedString(t.config.Secret)
}

// Parse verifies tokenStr and returns its claims.
func (t *TokenIssuer) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	}
	if t.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(t.config.Leeway))
	}
	if t.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(t.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		if t.config.KeyID != "" {
			kid, _ := tok.Header["kid"].(string)
			if kid != t.config.KeyID {
				return nil, fmt.Errorf("unknown kid %q", kid)
			}
		}
		return t.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Email == "" || claims.Email != claims.Subject {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
