package identity

import (
	"strings"
	"time"
)

// Role is the ordered privilege level of a user. BASIC and VIP are the
// subscriber tiers; ADMIN moderates; CEO is seeded out of band and is
// never produced or removed by Grant.
type Role string

const (
	RoleBasic Role = "BASIC"
	RoleVIP   Role = "VIP"
	RoleAdmin Role = "ADMIN"
	RoleCEO   Role = "CEO"
)

var roleRank = map[Role]int{
	RoleBasic: 0,
	RoleVIP:   1,
	RoleAdmin: 2,
	RoleCEO:   3,
}

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidInput
	}
	return r, nil
}

// Valid reports whether the role is one of the known tiers.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r carries at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// Entitlement is the persisted (role, optional expiry) pair. Only VIP
// carries a meaningful expiry; every other role stores a nil expiry.
type Entitlement struct {
	Role      Role
	ExpiresAt *time.Time
}

// Effective computes the role that governs authorization right now. A VIP
// grant whose expiry has passed resolves to BASIC inline, so correctness
// never depends on the reconciler having run.
func (e Entitlement) Effective(now time.Time) Role {
	if e.Role == RoleVIP && e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
		return RoleBasic
	}
	return e.Role
}

// Permanent reports whether the entitlement never decays on its own.
func (e Entitlement) Permanent() bool {
	return e.Role != RoleVIP || e.ExpiresAt == nil
}

// User is a principal. A user may hold a Telegram identity, an email
// credential, or both; the rendezvous flow links the two.
type User struct {
	ID               string
	TelegramID       *int64
	TelegramUsername string
	FirstName        string
	LastName         string
	Email            string
	PasswordHash     string
	EmailVerified    bool
	Role             Role
	VIPExpiresAt     *time.Time
	CreatedAt        time.Time
}

// Entitlement returns the user's persisted entitlement.
func (u *User) Entitlement() Entitlement {
	return Entitlement{Role: u.Role, ExpiresAt: u.VIPExpiresAt}
}

// TelegramProfile is the channel-asserted identity used by find-or-create.
type TelegramProfile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}
