// Package services contains server-side business logic. UserService runs the
// credential lifecycle: registration, login, refresh-token rotation and
// logout, plus the checks the HTTP layer applies to access tokens.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/go-playground/validator/v10"
)

// PasswordHasher is the one-way credential transform.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// RegisterInput is the data accepted for a new account. An empty Role means
// models.RoleUser.
type RegisterInput struct {
	Email     string      `json:"email" validate:"required,email"`
	Password  string      `json:"password" validate:"required,password"`
	Role      models.Role `json:"role" validate:"omitempty,oneof=user manager admin"`
	FirstName string      `json:"firstName" validate:"max=100"`
	LastName  string      `json:"lastName" validate:"max=100"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

// TokenPair is returned by Refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *auth.TokenCodec
	hasher      PasswordHasher
	validate    *validator.Validate
	now         func() time.Time

	// dummyDigest is verified against when the email is unknown, so every
	// credential failure costs one hash.
	dummyDigest string
}

// Option customises a UserService.
type Option func(*UserService)

// WithClock replaces time.Now for record expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *UserService) { s.now = now }
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, tokens *auth.TokenCodec, hasher PasswordHasher, opts ...Option) *UserService {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) >= common.MinPasswordLength
	})

	s := &UserService{
		db:          db,
		repomanager: m,
		tokens:      tokens,
		hasher:      hasher,
		validate:    v,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	// A failed hash leaves the digest empty; Verify then rejects it outright.
	s.dummyDigest, _ = hasher.Hash("gophauth-unknown-user")
	return s
}

// Register creates an account and its first session. The user row and the
// refresh record are written in one transaction.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, internal("hash password", err)
	}

	user := &models.User{
		Email:        in.Email,
		PasswordHash: digest,
		Role:         in.Role,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
	}

	var result *AuthResult
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			if errors.Is(err, common.ErrConflict) {
				return fmt.Errorf("%w: email already registered", common.ErrConflict)
			}
			return internal("create user", err)
		}

		result, err = s.startSession(ctx, tx, created)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Login verifies credentials and opens a new session. Earlier sessions of the
// same user stay valid.
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", common.ErrValidation)
	}

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Verify(password, s.dummyDigest)
			return nil, common.ErrInvalidCredentials
		}
		return nil, internal("get user", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) || !user.IsActive {
		return nil, common.ErrInvalidCredentials
	}

	return s.startSession(ctx, s.db, user)
}

// Refresh exchanges a live refresh token for a new pair. The stored record is
// rotated in place, so the presented token stops working once this returns.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", common.ErrValidation)
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, common.ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, common.ErrInvalidToken
	}

	repo := s.repomanager.RefreshTokens(s.db)

	record, err := repo.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, internal("find refresh token", err)
	}
	if !record.Live(s.now()) || record.UserID != userID {
		return nil, common.ErrInvalidToken
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, internal("get user", err)
	}
	if !user.IsActive {
		return nil, common.ErrInvalidToken
	}

	accessToken, _, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, internal("issue access token", err)
	}
	newRefresh, expiresAt, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, internal("issue refresh token", err)
	}

	if err := repo.Replace(ctx, record.ID, refreshToken, newRefresh, expiresAt); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// Another request rotated or revoked this token first.
			return nil, common.ErrInvalidToken
		}
		return nil, internal("rotate refresh token", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: newRefresh}, nil
}

// Logout revokes refreshToken. Unknown or empty tokens succeed.
func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.repomanager.RefreshTokens(s.db).DeleteByToken(ctx, refreshToken); err != nil {
		return internal("delete refresh token", err)
	}
	return nil
}

// VerifyAccess authenticates a bearer token.
func (s *UserService) VerifyAccess(token string) (*auth.AccessClaims, error) {
	return s.tokens.VerifyAccess(token)
}

// Authorize checks the role claim against roles. No roles means any
// authenticated caller.
func (s *UserService) Authorize(claims *auth.AccessClaims, roles ...models.Role) error {
	if claims == nil {
		return common.ErrInvalidToken
	}
	if len(roles) == 0 {
		return nil
	}
	for _, r := range roles {
		if claims.Role == r {
			return nil
		}
	}
	return common.ErrForbidden
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	list, err := s.repomanager.Users(s.db).List(ctx)
	if err != nil {
		return nil, internal("list users", err)
	}
	return list, nil
}

// CleanupExpired removes refresh records that can no longer be exchanged.
func (s *UserService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, internal("delete expired refresh tokens", err)
	}
	return n, nil
}

// startSession issues a token pair for user and persists the refresh record
// with the same expiry the token carries.
func (s *UserService) startSession(ctx context.Context, db dbx.DBTX, user *models.User) (*AuthResult, error) {
	accessToken, _, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, internal("issue access token", err)
	}
	refreshToken, expiresAt, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, internal("issue refresh token", err)
	}

	if _, err := s.repomanager.RefreshTokens(db).Insert(ctx, refreshToken, user.ID, expiresAt); err != nil {
		return nil, internal("store refresh token", err)
	}

	return &AuthResult{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrorInternal, op, err)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", common.ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "invalid email address"
	case "password":
		return fmt.Sprintf("password must be at least %d characters", common.MinPasswordLength)
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	}
	return field + " is invalid"
}
