package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"flhub.app/internal/content"
	"flhub.app/internal/identity"
	"flhub.app/internal/session"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	gate       *Gate
	identities *identity.Service
	resources  *content.InMemory
	sessions   *session.Issuer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	identities := identity.NewService(identity.NewInMemory())
	resources := content.NewInMemory()
	resources.Put(&content.Resource{ID: "c1", Title: "Sample Pack", Kind: "archive", Path: "packs/c1.zip"})
	sessions := session.NewIssuer(secret)
	return &fixture{
		gate:       NewGate(sessions, identities, resources, opts...),
		identities: identities,
		resources:  resources,
		sessions:   sessions,
	}
}

func (f *fixture) credential(t *testing.T, role identity.Role, expiresAt *time.Time) string {
	t.Helper()
	user := &identity.User{ID: "u-" + string(role), Role: role, VIPExpiresAt: expiresAt, EmailVerified: true}
	if err := f.identities.Store().Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	raw, err := f.sessions.Issue(user)
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}
	return raw
}

func TestAuthorizePolicyFollowsLiveRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	basic := f.credential(t, identity.RoleBasic, nil)
	grant, err := f.gate.Authorize(ctx, basic, "c1")
	if err != nil {
		t.Fatalf("Authorize basic: %v", err)
	}
	if grant.Policy.limiter == nil {
		t.Fatal("basic stream must be throttled")
	}

	vip := f.credential(t, identity.RoleVIP, nil)
	grant, err = f.gate.Authorize(ctx, vip, "c1")
	if err != nil {
		t.Fatalf("Authorize vip: %v", err)
	}
	if grant.Policy.limiter != nil {
		t.Fatal("vip stream must run unthrottled")
	}
}

func TestAuthorizeAppliesInlineDecay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Stored role is still VIP but the grant has lapsed; no sweep has run.
	expired := time.Now().UTC().Add(-time.Hour)
	raw := f.credential(t, identity.RoleVIP, &expired)

	grant, err := f.gate.Authorize(ctx, raw, "c1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if grant.Policy.limiter == nil {
		t.Fatal("lapsed vip must be throttled")
	}
}

func TestAuthorizeRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := f.credential(t, identity.RoleBasic, nil)

	if _, err := f.gate.Authorize(ctx, "garbage", "c1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad credential: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.gate.Authorize(ctx, raw, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing resource: got %v, want ErrNotFound", err)
	}
}

func TestStreamThrottleHoldsCap(t *testing.T) {
	// 8 KiB/s cap with a 1 KiB burst: a 24 KiB body needs no less than
	// (24-1)/8 seconds of limiter waits.
	f := newFixture(t, WithRateCap(8<<10), WithBurst(1<<10))
	ctx := context.Background()

	raw := f.credential(t, identity.RoleBasic, nil)
	grant, err := f.gate.Authorize(ctx, raw, "c1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	body := strings.Repeat("x", 24<<10)
	var dst bytes.Buffer
	start := time.Now()
	written, err := f.gate.Stream(ctx, &dst, strings.NewReader(body), grant)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if written != int64(len(body)) {
		t.Fatalf("wrote %d bytes, want %d", written, len(body))
	}
	if min := 2 * time.Second; elapsed < min {
		t.Fatalf("stream took %v, want at least %v under the cap", elapsed, min)
	}
}

func TestStreamCountsDownloadOnceOnCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw := f.credential(t, identity.RoleVIP, nil)
	grant, err := f.gate.Authorize(ctx, raw, "c1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	var dst bytes.Buffer
	if _, err := f.gate.Stream(ctx, &dst, strings.NewReader("payload"), grant); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	r, err := f.resources.Find(ctx, "c1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if r.Downloads != 1 {
		t.Fatalf("downloads = %d, want 1", r.Downloads)
	}
}

func TestStreamCountsDownloadOnClientAbort(t *testing.T) {
	f := newFixture(t, WithRateCap(4<<10), WithBurst(1<<10))
	ctx, cancel := context.WithCancel(context.Background())

	raw := f.credential(t, identity.RoleBasic, nil)
	grant, err := f.gate.Authorize(ctx, raw, "c1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	// Cancel mid-stream: the limiter wait surfaces the context error.
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	body := strings.Repeat("x", 64<<10)
	written, err := f.gate.Stream(ctx, io.Discard, strings.NewReader(body), grant)
	if err == nil {
		t.Fatal("expected the aborted stream to fail")
	}
	if written >= int64(len(body)) {
		t.Fatalf("aborted stream relayed the whole body (%d bytes)", written)
	}

	r, err := f.resources.Find(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if r.Downloads != 1 {
		t.Fatalf("downloads after abort = %d, want 1", r.Downloads)
	}
}
