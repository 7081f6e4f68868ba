package security

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/caremeds/internal/domain/auth"
)

var _ auth.Authenticator = (*TokenVerifier)(nil)

// Claims is the payload of bearer tokens issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// TokenVerifier validates HS256 bearer tokens. Token issuance lives in the
// external identity service; this type only verifies.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenVerifier creates a verifier for tokens signed with secret. When
// issuer is non-empty the iss claim must match it.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer, now: time.Now}
}

// Authenticate parses and verifies a raw JWT.
func (v *TokenVerifier) Authenticate(_ context.Context, raw string) (auth.Principal, error) {
	if raw == "" || len(v.secret) == 0 {
		return auth.Principal{}, auth.ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return auth.Principal{}, errors.Wrap(auth.ErrUnauthenticated, err.Error())
	}

	role, err := auth.ParseRole(claims.Role)
	if err != nil {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	if claims.Subject == "" {
		return auth.Principal{}, auth.ErrUnauthenticated
	}

	return auth.Principal{
		ID:   claims.Subject,
		Name: claims.Name,
		Role: role,
	}, nil
}

// Sign issues a token for p. It exists for tests and local tooling; production
// tokens come from the identity service.
func Sign(secret []byte, issuer string, p auth.Principal, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: p.Name,
		Role: p.Role.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
