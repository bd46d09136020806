package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flhub.app/internal/messaging"
	"flhub.app/internal/obs"
)

// Service is the authoritative source of current privilege. Role decay is
// applied inline by Resolve; the reconciler only converges persisted state.
type Service struct {
	store   Store
	gateway messaging.Gateway
	now     func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithGateway sets the messaging gateway used for advisory notifications.
func WithGateway(gw messaging.Gateway) ServiceOption {
	return func(s *Service) {
		if gw != nil {
			s.gateway = gw
		}
	}
}

// NewService constructs a Service over the given store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		gateway: messaging.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for composition (reconciler, tests).
func (s *Service) Store() Store { return s.store }

// Find loads a user by id.
func (s *Service) Find(ctx context.Context, id string) (*User, error) {
	return s.store.Find(ctx, id)
}

// Resolve returns the role that governs authorization for the user right
// now. A stored VIP with a lapsed expiry resolves to BASIC even before any
// reconciliation sweep has persisted the demotion.
func (s *Service) Resolve(ctx context.Context, id string) (Role, error) {
	user, err := s.store.Find(ctx, id)
	if err != nil {
		return "", err
	}
	return user.Entitlement().Effective(s.now().UTC()), nil
}

// Grant sets the user's entitlement. Only VIP accepts a duration (whole
// months); any other role clears an existing expiry. CEO can be neither
// granted nor overwritten. Granting the already-persisted state is a no-op.
func (s *Service) Grant(ctx context.Context, id string, role Role, months int) (*User, error) {
	if !role.Valid() {
		return nil, ErrInvalidInput
	}
	if role == RoleCEO {
		return nil, ErrForbidden
	}
	if months < 0 || (months > 0 && role != RoleVIP) {
		return nil, ErrInvalidInput
	}

	user, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Role == RoleCEO {
		return nil, ErrForbidden
	}

	var expiresAt *time.Time
	if role == RoleVIP && months > 0 {
		t := s.now().UTC().AddDate(0, months, 0)
		expiresAt = &t
	}
	if user.Role == role && equalExpiry(user.VIPExpiresAt, expiresAt) {
		return user, nil
	}

	updated, err := s.store.SetEntitlement(ctx, id, role, expiresAt)
	if err != nil {
		return nil, err
	}

	s.notifyRoleChange(ctx, updated, months)
	return updated, nil
}

// DemoteToBase resets the user to BASIC with no expiry.
func (s *Service) DemoteToBase(ctx context.Context, id string) (*User, error) {
	return s.Grant(ctx, id, RoleBasic, 0)
}

// Authenticate verifies an email/password credential. Failures are uniform
// so the caller cannot distinguish a missing account from a bad password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrUnauthorized
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !user.EmailVerified {
		return nil, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// FindOrCreateByTelegram upserts a user for the channel-asserted profile.
func (s *Service) FindOrCreateByTelegram(ctx context.Context, profile TelegramProfile) (*User, error) {
	if profile.ID == 0 {
		return nil, ErrInvalidInput
	}
	return s.store.FindOrCreateByTelegram(ctx, profile)
}

// notifyRoleChange sends an advisory message about the new entitlement.
// Delivery failure is logged and never propagated.
func (s *Service) notifyRoleChange(ctx context.Context, user *User, months int) {
	if user.TelegramID == nil {
		return
	}
	text := fmt.Sprintf("Your FL Hub role is now *%s*.", user.Role)
	if user.Role == RoleVIP && user.VIPExpiresAt != nil {
		text += fmt.Sprintf("\nValid for %d mo., until %s.", months, user.VIPExpiresAt.Format("02.01.2006"))
	}
	if _, err := s.gateway.Send(ctx, *user.TelegramID, text, true); err != nil {
		obs.LogEntry(map[string]any{
			"ts":      s.now().UTC().Format(time.RFC3339Nano),
			"level":   "warn",
			"msg":     "role change notification failed",
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}
}

func equalExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
