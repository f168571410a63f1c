package services

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/gophauth/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
)

// memStore is an in-memory stand-in for both tables.
type memStore struct {
	mu          sync.Mutex
	users       map[int64]*models.User
	nextUserID  int64
	tokens      map[int64]*models.RefreshToken
	nextTokenID int64

	// error injection
	usersErr  error
	insertErr error
	findErr   error
	deleteErr error

	// beforeReplace runs once, just before Replace takes effect.
	beforeReplace func()
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[int64]*models.User{},
		tokens: map[int64]*models.RefreshToken{},
	}
}

func (s *memStore) tokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

type memUsers struct{ s *memStore }

func (r memUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usersErr != nil {
		return nil, s.usersErr
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return nil, common.ErrConflict
		}
	}
	s.nextUserID++
	u.ID = s.nextUserID
	u.IsActive = true
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	s.users[u.ID] = &cp
	return u, nil
}

func (r memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usersErr != nil {
		return nil, s.usersErr
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usersErr != nil {
		return nil, s.usersErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r memUsers) List(ctx context.Context) ([]models.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usersErr != nil {
		return nil, s.usersErr
	}
	out := make([]models.User, 0, len(s.users))
	for id := int64(1); id <= s.nextUserID; id++ {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

type memTokens struct{ s *memStore }

func (r memTokens) Insert(ctx context.Context, token string, userID int64, expiresAt time.Time) (*models.RefreshToken, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	for _, t := range s.tokens {
		if t.Token == token {
			return nil, common.ErrConflict
		}
	}
	s.nextTokenID++
	rt := &models.RefreshToken{ID: s.nextTokenID, UserID: userID, Token: token, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	s.tokens[rt.ID] = rt
	cp := *rt
	return &cp, nil
}

func (r memTokens) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, t := range s.tokens {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memTokens) Replace(ctx context.Context, id int64, oldToken, newToken string, newExpiresAt time.Time) error {
	s := r.s
	s.mu.Lock()
	hook := s.beforeReplace
	s.beforeReplace = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.Token != oldToken {
		return common.ErrorNotFound
	}
	t.Token = newToken
	t.ExpiresAt = newExpiresAt
	return nil
}

func (r memTokens) DeleteByToken(ctx context.Context, token string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for id, t := range s.tokens {
		if t.Token == token {
			delete(s.tokens, id)
		}
	}
	return nil
}

func (r memTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	var n int64
	for id, t := range s.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

type memManager struct{ s *memStore }

func (m memManager) RunMigrations(context.Context, *sql.DB) error             { return nil }
func (m memManager) Users(db dbx.DBTX) usersrepo.Repository                 { return memUsers{m.s} }
func (m memManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return memTokens{m.s} }

// fakeHasher is reversible on purpose; the real hasher has its own tests.
type fakeHasher struct{ err error }

func (h fakeHasher) Hash(p string) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "hashed:" + p, nil
}

func (h fakeHasher) Verify(p, digest string) bool { return digest == "hashed:"+p }

// countingHasher records which digests Verify was asked about.
type countingHasher struct {
	fakeHasher
	mu       sync.Mutex
	verified []string
}

func (h *countingHasher) Verify(p, digest string) bool {
	h.mu.Lock()
	h.verified = append(h.verified, digest)
	h.mu.Unlock()
	return h.fakeHasher.Verify(p, digest)
}

func (h *countingHasher) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.verified...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
