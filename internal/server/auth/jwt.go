// Package auth issues and verifies the service's signed tokens. Access and
// refresh tokens are HS256 JWTs signed with two independent secrets and
// tagged with a "typ" claim, so neither class can stand in for the other.
package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token class discriminators carried in the "typ" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// AccessClaims are the claims of an access token. Subject is the decimal
// user id.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	Type  string      `json:"typ"`
}

// UserID parses the subject claim.
func (c *AccessClaims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// RefreshClaims are the claims of a refresh token. ID (jti) is random so
// tokens minted for the same user in the same second still differ.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// UserID parses the subject claim.
func (c *RefreshClaims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// TokenCodec creates and verifies tokens. It is immutable after construction
// and safe for concurrent use.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// Option customises a TokenCodec.
type Option func(*TokenCodec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec validates the secrets and lifetimes. Missing or shared
// secrets are a configuration error.
func NewTokenCodec(accessSecret, refreshSecret []byte, accessTTL, refreshTTL time.Duration, opts ...Option) (*TokenCodec, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("token secrets must not be empty")
	}
	if string(accessSecret) == string(refreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	c := &TokenCodec{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// IssueAccess signs an access token for u and returns it with its expiry.
func (c *TokenCodec) IssueAccess(u *models.User) (string, time.Time, error) {
	iat, exp := c.window(c.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: u.Email,
		Role:  u.Role,
		Type:  TypeAccess,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// IssueRefresh signs a refresh token for userID and returns it with its
// expiry. The expiry is what the caller must persist.
func (c *TokenCodec) IssueRefresh(userID int64) (string, time.Time, error) {
	iat, exp := c.window(c.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Type: TypeRefresh,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// VerifyAccess checks signature, expiry and class of an access token. Every
// failure is reported as common.ErrInvalidToken.
func (c *TokenCodec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(token, claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess {
		return nil, common.ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh checks signature, expiry and class of a refresh token. It
// does not consult storage; callers must also find a live record.
func (c *TokenCodec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(token, claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh {
		return nil, common.ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

func (c *TokenCodec) parse(token string, claims jwt.Claims, secret []byte) error {
	if token == "" {
		return common.ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return common.ErrInvalidToken
	}
	return nil
}

// window returns issued-at and expiry truncated to whole seconds, matching
// the precision of the encoded claims.
func (c *TokenCodec) window(ttl time.Duration) (time.Time, time.Time) {
	iat := c.now().Truncate(time.Second)
	return iat, iat.Add(ttl)
}
