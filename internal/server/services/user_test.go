package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

const (
	accessTTL  = 7 * 24 * time.Hour
	refreshTTL = 30 * 24 * time.Hour
)

type fixture struct {
	svc   *UserService
	store *memStore
	mock  sqlmock.Sqlmock
	clock *fakeClock
	codec *auth.TokenCodec
}

func newFixture(t *testing.T, hasher PasswordHasher) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := &fakeClock{t: epoch}
	codec, err := auth.NewTokenCodec([]byte("access-secret"), []byte("refresh-secret"), accessTTL, refreshTTL, auth.WithClock(clk.Now))
	require.NoError(t, err)

	store := newMemStore()
	svc := NewUserService(db, memManager{store}, codec, hasher, WithClock(clk.Now))
	return &fixture{svc: svc, store: store, mock: mock, clock: clk, codec: codec}
}

func (f *fixture) register(t *testing.T, in RegisterInput) *AuthResult {
	t.Helper()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	res, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestRegister_Success(t *testing.T) {
	f := newFixture(t, fakeHasher{})

	res := f.register(t, RegisterInput{Email: "u@test.com", Password: "password123", FirstName: "Una"})

	require.NotNil(t, res.User)
	assert.Equal(t, int64(1), res.User.ID)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.True(t, res.User.IsActive)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.NotEqual(t, res.AccessToken, res.RefreshToken)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "password")
	assert.NotContains(t, string(body), "hashed:")

	// The stored record expires exactly when the refresh claim does.
	claims, err := f.codec.VerifyRefresh(res.RefreshToken)
	require.NoError(t, err)
	rec, err := memTokens{f.store}.FindByToken(context.Background(), res.RefreshToken)
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(claims.ExpiresAt.Time))
	assert.True(t, rec.ExpiresAt.Equal(epoch.Add(refreshTTL)))

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRegister_NormalizesEmailAndKeepsRole(t *testing.T) {
	f := newFixture(t, fakeHasher{})

	res := f.register(t, RegisterInput{Email: "  Boss@Test.COM ", Password: "password123", Role: models.RoleAdmin})

	assert.Equal(t, "boss@test.com", res.User.Email)
	assert.Equal(t, models.RoleAdmin, res.User.Role)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		in      RegisterInput
		wantMsg string
	}{
		{"missing email", RegisterInput{Password: "password123"}, "email is required"},
		{"bad email", RegisterInput{Email: "not-an-email", Password: "password123"}, "invalid email address"},
		{"short password", RegisterInput{Email: "a@x.com", Password: "short"}, "at least 8 characters"},
		{"missing password", RegisterInput{Email: "a@x.com"}, "password is required"},
		{"unknown role", RegisterInput{Email: "a@x.com", Password: "password123", Role: "root"}, "role must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fakeHasher{})

			_, err := f.svc.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, common.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Empty(t, f.store.users)
			require.NoError(t, f.mock.ExpectationsWereMet(), "no transaction for invalid input")
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	first := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "different-pass", Role: models.RoleAdmin})
	require.ErrorIs(t, err, common.ErrConflict)

	stored, err := memUsers{f.store}.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, stored.ID)
	assert.Equal(t, models.RoleUser, stored.Role)
	assert.Equal(t, "hashed:password123", stored.PasswordHash)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRegister_RollsBackWhenSessionFails(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	f.store.insertErr = errors.New("disk full")

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "password123"})
	require.ErrorIs(t, err, common.ErrorInternal)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRegister_HashFailure(t *testing.T) {
	f := newFixture(t, fakeHasher{err: errors.New("no entropy")})

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "password123"})
	require.ErrorIs(t, err, common.ErrorInternal)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestLogin_Success_AddsSession(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})

	res, err := f.svc.Login(context.Background(), "A@x.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.NotEqual(t, reg.RefreshToken, res.RefreshToken)
	assert.Equal(t, 2, f.store.tokenCount())

	// The registration session survives the login.
	_, err = f.svc.Refresh(context.Background(), reg.RefreshToken)
	require.NoError(t, err)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
	off := f.register(t, RegisterInput{Email: "off@x.com", Password: "password123"})
	f.store.users[off.User.ID].IsActive = false

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"wrong password", "a@x.com", "password124", common.ErrInvalidCredentials},
		{"unknown email", "ghost@x.com", "password123", common.ErrInvalidCredentials},
		{"inactive user", "off@x.com", "password123", common.ErrInvalidCredentials},
		{"empty email", "", "password123", common.ErrValidation},
		{"empty password", "a@x.com", "", common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tt.email, tt.password)
			require.ErrorIs(t, err, tt.want)
			if errors.Is(tt.want, common.ErrInvalidCredentials) {
				assert.Equal(t, common.ErrInvalidCredentials, err, "no detail on credential failures")
			}
		})
	}
}

func TestLogin_EveryCredentialFailureVerifies(t *testing.T) {
	h := &countingHasher{}
	f := newFixture(t, h)
	f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
	off := f.register(t, RegisterInput{Email: "off@x.com", Password: "password123"})
	f.store.users[off.User.ID].IsActive = false

	tests := []struct {
		name       string
		email      string
		password   string
		wantDigest string
	}{
		{"unknown email", "ghost@x.com", "password123", "hashed:gophauth-unknown-user"},
		{"wrong password", "a@x.com", "password124", "hashed:password123"},
		{"inactive user", "off@x.com", "password123", "hashed:password123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(h.calls())

			_, err := f.svc.Login(context.Background(), tt.email, tt.password)
			require.Equal(t, common.ErrInvalidCredentials, err)

			calls := h.calls()
			require.Len(t, calls, before+1, "exactly one Verify per attempt")
			assert.Equal(t, tt.wantDigest, calls[before])
		})
	}
}

func TestLogin_StorageError(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	f.store.usersErr = errors.New("connection reset")

	_, err := f.svc.Login(context.Background(), "a@x.com", "password123")
	require.ErrorIs(t, err, common.ErrorInternal)
	assert.NotErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestRefresh_RotationIsSingleUse(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})

	f.clock.Advance(time.Minute)
	pair, err := f.svc.Refresh(context.Background(), reg.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken, pair.RefreshToken)
	assert.Equal(t, 1, f.store.tokenCount(), "rotation updates the record in place")

	_, err = f.svc.Refresh(context.Background(), reg.RefreshToken)
	require.ErrorIs(t, err, common.ErrInvalidToken)

	again, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	rec, err := memTokens{f.store}.FindByToken(context.Background(), again.RefreshToken)
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(epoch.Add(time.Minute).Add(refreshTTL)))
}

func TestRefresh_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		_, err := f.svc.Refresh(ctx, "")
		require.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("garbage", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		_, err := f.svc.Refresh(ctx, "not.a.jwt")
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("access token presented", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
		_, err := f.svc.Refresh(ctx, reg.AccessToken)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("signed but never stored", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
		tok, _, err := f.codec.IssueRefresh(reg.User.ID)
		require.NoError(t, err)
		_, err = f.svc.Refresh(ctx, tok)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("record expired before claim", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
		for _, rt := range f.store.tokens {
			rt.ExpiresAt = epoch
		}
		_, err := f.svc.Refresh(ctx, reg.RefreshToken)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("token past expiry", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
		f.clock.Advance(refreshTTL)
		_, err := f.svc.Refresh(ctx, reg.RefreshToken)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("record owned by another user", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
		other := f.register(t, RegisterInput{Email: "b@x.com", Password: "password123"})
		for _, rt := range f.store.tokens {
			if rt.Token == reg.RefreshToken {
				rt.UserID = other.User.ID
			}
		}
		_, err := f.svc.Refresh(ctx, reg.RefreshToken)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("inactive user", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
		f.store.users[reg.User.ID].IsActive = false
		_, err := f.svc.Refresh(ctx, reg.RefreshToken)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("user removed", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
		delete(f.store.users, reg.User.ID)
		_, err := f.svc.Refresh(ctx, reg.RefreshToken)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newFixture(t, fakeHasher{})
		reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
		f.store.findErr = errors.New("timeout")
		_, err := f.svc.Refresh(ctx, reg.RefreshToken)
		require.ErrorIs(t, err, common.ErrorInternal)
	})
}

func TestRefresh_LosingConcurrentRotation(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})

	var winner *TokenPair
	f.store.beforeReplace = func() {
		var err error
		winner, err = f.svc.Refresh(context.Background(), reg.RefreshToken)
		require.NoError(t, err)
	}

	_, err := f.svc.Refresh(context.Background(), reg.RefreshToken)
	require.ErrorIs(t, err, common.ErrInvalidToken)

	require.NotNil(t, winner)
	_, err = f.svc.Refresh(context.Background(), winner.RefreshToken)
	require.NoError(t, err)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	reg := f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, reg.RefreshToken))
	_, err := f.svc.Refresh(ctx, reg.RefreshToken)
	require.ErrorIs(t, err, common.ErrInvalidToken)

	require.NoError(t, f.svc.Logout(ctx, reg.RefreshToken), "second logout is a no-op")
	require.NoError(t, f.svc.Logout(ctx, ""), "empty token is accepted")
	require.NoError(t, f.svc.Logout(ctx, "garbage"))

	f.store.deleteErr = errors.New("db down")
	require.ErrorIs(t, f.svc.Logout(ctx, "x"), common.ErrorInternal)
}

func TestVerifyAccess_RoundTrip(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	reg := f.register(t, RegisterInput{Email: "m@x.com", Password: "password123", Role: models.RoleManager})

	claims, err := f.svc.VerifyAccess(reg.AccessToken)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, id)
	assert.Equal(t, "m@x.com", claims.Email)
	assert.Equal(t, models.RoleManager, claims.Role)
	assert.Equal(t, accessTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))

	_, err = f.svc.VerifyAccess(reg.RefreshToken)
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	user := &auth.AccessClaims{Role: models.RoleUser}
	admin := &auth.AccessClaims{Role: models.RoleAdmin}

	assert.NoError(t, f.svc.Authorize(user))
	assert.NoError(t, f.svc.Authorize(admin, models.RoleManager, models.RoleAdmin))
	assert.ErrorIs(t, f.svc.Authorize(user, models.RoleManager, models.RoleAdmin), common.ErrForbidden)
	assert.ErrorIs(t, f.svc.Authorize(nil), common.ErrInvalidToken)
}

func TestListUsers(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})
	f.register(t, RegisterInput{Email: "b@x.com", Password: "password123"})

	list, err := f.svc.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a@x.com", list[0].Email)

	f.store.usersErr = errors.New("boom")
	_, err = f.svc.ListUsers(context.Background())
	require.ErrorIs(t, err, common.ErrorInternal)
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	f.register(t, RegisterInput{Email: "a@x.com", Password: "password123"})

	n, err := f.svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(refreshTTL)
	n, err = f.svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, f.store.tokenCount())
}

func TestSessionLifecycle_EndToEnd(t *testing.T) {
	f := newFixture(t, fakeHasher{})
	ctx := context.Background()

	reg := f.register(t, RegisterInput{Email: "u@test.com", Password: "password123"})
	require.NotEmpty(t, reg.AccessToken)
	require.NotEmpty(t, reg.RefreshToken)
	require.NotEqual(t, reg.AccessToken, reg.RefreshToken)

	login, err := f.svc.Login(ctx, "u@test.com", "password123")
	require.NoError(t, err)
	require.NotEqual(t, reg.RefreshToken, login.RefreshToken)

	pair, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEqual(t, login.RefreshToken, pair.RefreshToken)

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, common.ErrInvalidToken)

	// The other session is untouched.
	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, f.mock.ExpectationsWereMet())
}
