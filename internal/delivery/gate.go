// Package delivery authorizes downloads and relays file bytes at the
// throughput the caller's entitlement allows.
package delivery

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/time/rate"

	"flhub.app/internal/content"
	"flhub.app/internal/identity"
	"flhub.app/internal/obs"
	"flhub.app/internal/session"
)

var (
	ErrUnauthorized = errors.New("delivery: credential rejected")
	ErrNotFound     = errors.New("delivery: resource not found")
)

const (
	defaultRateCap = 200 << 10 // bytes per second for BASIC streams
	chunkSize      = 32 << 10
)

// Policy is the per-stream throughput decision. A nil limiter means the
// stream runs unthrottled.
type Policy struct {
	Role    identity.Role
	limiter *rate.Limiter
}

// Name labels the policy for metrics.
func (p Policy) Name() string {
	if p.limiter == nil {
		return "unlimited"
	}
	return "throttled"
}

// Grant is an authorized download: the resource plus the policy that
// governs its stream.
type Grant struct {
	User     *identity.User
	Resource *content.Resource
	Policy   Policy
}

// Gate authorizes and meters content delivery.
type Gate struct {
	sessions   *session.Issuer
	identities *identity.Service
	resources  content.Store
	capBytes   int
	burst      int
}

// Option configures the Gate.
type Option func(*Gate)

// WithRateCap overrides the throttled policy's bytes-per-second budget.
func WithRateCap(bytesPerSecond int) Option {
	return func(g *Gate) {
		if bytesPerSecond > 0 {
			g.capBytes = bytesPerSecond
		}
	}
}

// WithBurst overrides the throttled policy's burst allowance.
func WithBurst(burst int) Option {
	return func(g *Gate) {
		if burst > 0 {
			g.burst = burst
		}
	}
}

// NewGate constructs a Gate.
func NewGate(sessions *session.Issuer, identities *identity.Service, resources content.Store, opts ...Option) *Gate {
	g := &Gate{
		sessions:   sessions,
		identities: identities,
		resources:  resources,
		capBytes:   defaultRateCap,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.burst == 0 {
		g.burst = g.capBytes
	}
	return g
}

// Authorize verifies the credential, re-resolves the holder's live role,
// and loads the resource. The role snapshot inside the credential is never
// used for the throughput decision.
func (g *Gate) Authorize(ctx context.Context, credential, resourceID string) (*Grant, error) {
	claims, err := g.sessions.Verify(credential)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := g.identities.Find(ctx, claims.UserID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	role, err := g.identities.Resolve(ctx, claims.UserID)
	if err != nil {
		return nil, ErrUnauthorized
	}

	resource, err := g.resources.Find(ctx, resourceID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &Grant{
		User:     user,
		Resource: resource,
		Policy:   g.policyFor(role),
	}, nil
}

func (g *Gate) policyFor(role identity.Role) Policy {
	p := Policy{Role: role}
	if !role.AtLeast(identity.RoleVIP) {
		p.limiter = rate.NewLimiter(rate.Limit(g.capBytes), g.burst)
	}
	return p
}

// Redirected records an external delivery. No bytes flow through the gate,
// but the download counter advances the same as for a proxied stream.
func (g *Gate) Redirected(ctx context.Context, grant *Grant) {
	obs.DownloadsStarted.WithLabelValues("redirect").Inc()
	if err := g.resources.IncrementDownloads(ctx, grant.Resource.ID); err != nil {
		obs.LogEntry(map[string]any{
			"ts":       time.Now().UTC().Format(time.RFC3339Nano),
			"level":    "warn",
			"msg":      "download counter increment failed",
			"resource": grant.Resource.ID,
			"error":    err.Error(),
		})
	}
	obs.DownloadsCompleted.WithLabelValues("redirect").Inc()
}

// Stream copies the resource body to dst under the grant's policy and bumps
// the download counter exactly once when the stream closes, whether the
// copy ran to completion or the client went away mid-transfer.
func (g *Gate) Stream(ctx context.Context, dst io.Writer, src io.Reader, grant *Grant) (int64, error) {
	obs.DownloadsStarted.WithLabelValues(grant.Policy.Name()).Inc()

	written, err := copyLimited(ctx, dst, src, grant.Policy.limiter)

	// The counter must survive client aborts: the increment runs on a
	// context detached from the request's cancellation.
	countCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if incErr := g.resources.IncrementDownloads(countCtx, grant.Resource.ID); incErr != nil {
		obs.LogEntry(map[string]any{
			"ts":       time.Now().UTC().Format(time.RFC3339Nano),
			"level":    "warn",
			"msg":      "download counter increment failed",
			"resource": grant.Resource.ID,
			"error":    incErr.Error(),
		})
	}

	obs.DownloadBytes.Add(float64(written))
	if err != nil {
		obs.DownloadsCompleted.WithLabelValues("aborted").Inc()
		return written, err
	}
	obs.DownloadsCompleted.WithLabelValues("complete").Inc()
	return written, nil
}

// copyLimited relays src to dst in fixed chunks, reserving each chunk's
// byte budget from the limiter before writing it.
func copyLimited(ctx context.Context, dst io.Writer, src io.Reader, limiter *rate.Limiter) (int64, error) {
	if limiter == nil {
		return io.Copy(dst, src)
	}

	// WaitN rejects reservations above the burst, so a chunk never exceeds it.
	chunk := chunkSize
	if b := limiter.Burst(); b < chunk {
		chunk = b
	}
	buf := make([]byte, chunk)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if err := limiter.WaitN(ctx, n); err != nil {
				return written, err
			}
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if flusher, ok := dst.(interface{ Flush() }); ok {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
