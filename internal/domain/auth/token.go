package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload issued to staff devices.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 staff tokens.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens returns a Tokens signer/verifier for the shared secret.
func NewTokens(secret []byte) *Tokens {
	return &Tokens{secret: secret, now: time.Now}
}

// Issue signs a token for the actor valid for ttl.
func (t *Tokens) Issue(a Actor, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		Role: a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.EmployeeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Verify parses raw and returns the actor it identifies. Tokens without a
// subject or a known role are rejected.
func (t *Tokens) Verify(raw string) (Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Actor{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Subject == "" || !claims.Role.Known() {
		return Actor{}, ErrInvalidToken
	}
	return Actor{EmployeeID: claims.Subject, Role: claims.Role}, nil
}
