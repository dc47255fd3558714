package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
)

var ErrUnauthenticated = errors.New("authentication required")

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string
	Role   Role
}

// Staff reports whether the caller may drive order fulfilment.
func (i Identity) Staff() bool {
	return i.Role == RoleMerchant || i.Role == RoleAdmin
}

type Authenticator interface {
	Verify(token string) (Identity, error)
}

// JWTAuthenticator signs and verifies HS256 tokens carrying "sub" and "role".
type JWTAuthenticator struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{Secret: []byte(secret), TTL: 7 * 24 * time.Hour}
}

type claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

func (a *JWTAuthenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Issue mints a token for id. Login lives elsewhere; this is used by tooling
// and tests.
func (a *JWTAuthenticator) Issue(id Identity) (string, error) {
	now := a.now()
	c := claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.Secret)
}

func (a *JWTAuthenticator) Verify(token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	role := c.Role
	switch role {
	case RoleCustomer, RoleMerchant, RoleAdmin:
	case "":
		role = RoleCustomer
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, role)
	}
	return Identity{UserID: c.Subject, Role: role}, nil
}
