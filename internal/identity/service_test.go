package identity

import (
	"context"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedUser(t *testing.T, store Store, u *User) *User {
	t.Helper()
	if err := store.Create(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestResolveInlineDecay(t *testing.T) {
	store := NewInMemory()
	granted := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(store, WithClock(fixedClock(granted)))

	user := seedUser(t, store, &User{FirstName: "X"})
	if _, err := svc.Grant(context.Background(), user.ID, RoleVIP, 1); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	stored, err := store.Find(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	wantExpiry := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if stored.VIPExpiresAt == nil || !stored.VIPExpiresAt.Equal(wantExpiry) {
		t.Fatalf("unexpected expiry: %v", stored.VIPExpiresAt)
	}

	cases := []struct {
		at   time.Time
		want Role
	}{
		{granted, RoleVIP},
		{time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), RoleVIP},
		{wantExpiry, RoleBasic},
		{time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), RoleBasic},
	}
	for _, tc := range cases {
		svc := NewService(store, WithClock(fixedClock(tc.at)))
		got, err := svc.Resolve(context.Background(), user.ID)
		if err != nil {
			t.Fatalf("Resolve at %v: %v", tc.at, err)
		}
		if got != tc.want {
			t.Fatalf("Resolve at %v = %s, want %s", tc.at, got, tc.want)
		}
	}

	// No sweep has run: the persisted row still says VIP.
	stored, _ = store.Find(context.Background(), user.ID)
	if stored.Role != RoleVIP {
		t.Fatalf("persisted role changed without a sweep: %s", stored.Role)
	}
}

func TestGrantGuardsOwnerRole(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	ctx := context.Background()

	user := seedUser(t, store, &User{FirstName: "A"})
	if _, err := svc.Grant(ctx, user.ID, RoleCEO, 0); err != ErrForbidden {
		t.Fatalf("granting CEO: got %v, want ErrForbidden", err)
	}

	boss := seedUser(t, store, &User{FirstName: "B", Role: RoleCEO})
	if _, err := svc.Grant(ctx, boss.ID, RoleBasic, 0); err != ErrForbidden {
		t.Fatalf("demoting CEO: got %v, want ErrForbidden", err)
	}
	if _, err := svc.DemoteToBase(ctx, boss.ID); err != ErrForbidden {
		t.Fatalf("DemoteToBase on CEO: got %v, want ErrForbidden", err)
	}

	stored, _ := store.Find(ctx, boss.ID)
	if stored.Role != RoleCEO {
		t.Fatalf("CEO role was overwritten: %s", stored.Role)
	}
}

func TestGrantDurationRules(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	ctx := context.Background()

	user := seedUser(t, store, &User{FirstName: "C"})
	if _, err := svc.Grant(ctx, user.ID, RoleAdmin, 3); err != ErrInvalidInput {
		t.Fatalf("duration on non-VIP: got %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Grant(ctx, user.ID, RoleVIP, -1); err != ErrInvalidInput {
		t.Fatalf("negative duration: got %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Grant(ctx, user.ID, Role("SUPER"), 0); err != ErrInvalidInput {
		t.Fatalf("unknown role: got %v, want ErrInvalidInput", err)
	}

	// Granting a non-VIP role clears a lingering expiry.
	if _, err := svc.Grant(ctx, user.ID, RoleVIP, 2); err != nil {
		t.Fatalf("Grant VIP: %v", err)
	}
	updated, err := svc.Grant(ctx, user.ID, RoleAdmin, 0)
	if err != nil {
		t.Fatalf("Grant ADMIN: %v", err)
	}
	if updated.VIPExpiresAt != nil {
		t.Fatalf("expiry not cleared: %v", updated.VIPExpiresAt)
	}

	// Permanent VIP: no duration means no expiry.
	if _, err := svc.Grant(ctx, user.ID, RoleVIP, 0); err != nil {
		t.Fatalf("Grant permanent VIP: %v", err)
	}
	stored, _ := store.Find(ctx, user.ID)
	if stored.Role != RoleVIP || stored.VIPExpiresAt != nil {
		t.Fatalf("unexpected entitlement: %s %v", stored.Role, stored.VIPExpiresAt)
	}
	if !stored.Entitlement().Permanent() {
		t.Fatal("expected permanent entitlement")
	}
}

func TestGrantNoOp(t *testing.T) {
	store := NewInMemory()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, WithClock(fixedClock(now)))
	ctx := context.Background()

	user := seedUser(t, store, &User{FirstName: "D", Role: RoleAdmin})
	got, err := svc.Grant(ctx, user.ID, RoleAdmin, 0)
	if err != nil {
		t.Fatalf("no-op grant: %v", err)
	}
	if got.Role != RoleAdmin {
		t.Fatalf("unexpected role: %s", got.Role)
	}
}

func TestAuthenticate(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	ctx := context.Background()

	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	seedUser(t, store, &User{
		FirstName:     "E",
		Email:         "e@example.com",
		PasswordHash:  hash,
		EmailVerified: true,
	})
	seedUser(t, store, &User{
		FirstName:    "F",
		Email:        "f@example.com",
		PasswordHash: hash,
	})

	if _, err := svc.Authenticate(ctx, "E@Example.com", "hunter22"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "e@example.com", "wrong"); err != ErrUnauthorized {
		t.Fatalf("bad password: got %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Authenticate(ctx, "missing@example.com", "hunter22"); err != ErrUnauthorized {
		t.Fatalf("missing user: got %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Authenticate(ctx, "f@example.com", "hunter22"); err != ErrUnauthorized {
		t.Fatalf("unverified email: got %v, want ErrUnauthorized", err)
	}
}

func TestFindOrCreateByTelegram(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	ctx := context.Background()

	first, err := svc.FindOrCreateByTelegram(ctx, TelegramProfile{ID: 555, Username: "old", FirstName: "O"})
	if err != nil {
		t.Fatalf("FindOrCreateByTelegram: %v", err)
	}
	if first.Role != RoleBasic {
		t.Fatalf("new user role = %s, want BASIC", first.Role)
	}

	second, err := svc.FindOrCreateByTelegram(ctx, TelegramProfile{ID: 555, Username: "new", FirstName: "N"})
	if err != nil {
		t.Fatalf("second FindOrCreateByTelegram: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same user, got %s and %s", first.ID, second.ID)
	}
	if second.TelegramUsername != "new" {
		t.Fatalf("profile not refreshed: %s", second.TelegramUsername)
	}

	if _, err := svc.FindOrCreateByTelegram(ctx, TelegramProfile{}); err != ErrInvalidInput {
		t.Fatalf("zero channel id: got %v, want ErrInvalidInput", err)
	}
}

func TestRoleOrdering(t *testing.T) {
	if !RoleCEO.AtLeast(RoleAdmin) || !RoleAdmin.AtLeast(RoleVIP) || !RoleVIP.AtLeast(RoleBasic) {
		t.Fatal("role ordering broken")
	}
	if RoleBasic.AtLeast(RoleVIP) {
		t.Fatal("BASIC must not outrank VIP")
	}
	if r, err := ParseRole(" vip "); err != nil || r != RoleVIP {
		t.Fatalf("ParseRole: %v %v", r, err)
	}
	if _, err := ParseRole("root"); err != ErrInvalidInput {
		t.Fatalf("ParseRole unknown: got %v", err)
	}
}
