// Package refreshtokens declares the store of outstanding refresh grants.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Repository keeps one record per issued refresh token.
type Repository interface {
	// Insert stores a new record. A token that already exists yields
	// common.ErrConflict.
	Insert(ctx context.Context, token string, userID int64, expiresAt time.Time) (*models.RefreshToken, error)

	// FindByToken returns the record for token or common.ErrorNotFound.
	// Expired records are returned; liveness is the caller's check.
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// Replace rotates record id from oldToken to newToken in one statement.
	// If the record no longer carries oldToken it returns common.ErrorNotFound.
	Replace(ctx context.Context, id int64, oldToken, newToken string, newExpiresAt time.Time) error

	// DeleteByToken removes a record if present. Absent tokens are not an error.
	DeleteByToken(ctx context.Context, token string) error

	// DeleteExpired removes every record with expires_at <= now and returns
	// how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
