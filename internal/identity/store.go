package identity

import (
	"context"
	"time"
)

// Store describes persistence operations for users and their entitlements.
// Every mutation that touches the entitlement is a single conditional
// update so concurrent grants and reconciler sweeps cannot race.
type Store interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*User, error)

	// FindOrCreateByTelegram upserts a user keyed by Telegram identity,
	// refreshing the profile fields on every contact.
	FindOrCreateByTelegram(ctx context.Context, profile TelegramProfile) (*User, error)

	// SetEntitlement atomically writes (role, expiry), guarded so a CEO
	// row is never touched. Returns ErrForbidden when the guard rejects
	// the write and ErrNotFound when the user does not exist.
	SetEntitlement(ctx context.Context, id string, role Role, expiresAt *time.Time) (*User, error)

	// DemoteExpired atomically demotes every VIP whose expiry precedes
	// now to BASIC with a cleared expiry, returning the demoted users.
	// Rows already demoted are excluded by the predicate, so an
	// immediate re-run is a no-op.
	DemoteExpired(ctx context.Context, now time.Time) ([]*User, error)

	UpdatePassword(ctx context.Context, id, passwordHash string) error
}
