package models

import "time"

// RefreshToken is one outstanding refresh grant.
type RefreshToken struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Live reports whether the record can still be exchanged at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}
