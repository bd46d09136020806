// Package reconcile converges persisted entitlement state with the decay
// rules enforced inline at read time.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"flhub.app/internal/identity"
	"flhub.app/internal/messaging"
	"flhub.app/internal/obs"
	"flhub.app/internal/rendezvous"
)

const defaultInterval = time.Hour

// Reconciler periodically demotes lapsed VIP grants and sweeps expired
// handshake tokens. It changes nothing a live read has not already decided;
// it only makes the stored rows agree.
type Reconciler struct {
	store    identity.Store
	broker   *rendezvous.Broker
	gateway  messaging.Gateway
	interval time.Duration
	now      func() time.Time
}

// Option configures the Reconciler.
type Option func(*Reconciler)

// WithInterval overrides the sweep period.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Reconciler) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithBroker adds handshake-token sweeping to the run.
func WithBroker(b *rendezvous.Broker) Option {
	return func(r *Reconciler) { r.broker = b }
}

// WithGateway enables advisory expiry notifications.
func WithGateway(gw messaging.Gateway) Option {
	return func(r *Reconciler) {
		if gw != nil {
			r.gateway = gw
		}
	}
}

// New constructs a Reconciler over the identity store.
func New(store identity.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		gateway:  messaging.Nop{},
		interval: defaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps once immediately, then on every tick until the context ends.
func (r *Reconciler) Run(ctx context.Context) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Demotion is the authoritative write;
// notifications are advisory and their failures never abort the sweep.
func (r *Reconciler) RunOnce(ctx context.Context) {
	now := r.now().UTC()

	demoted, err := r.store.DemoteExpired(ctx, now)
	if err != nil {
		r.log("warn", "entitlement sweep failed", map[string]any{"error": err.Error()})
	}
	for _, user := range demoted {
		obs.SubscriptionsExpired.Inc()
		r.notifyExpiry(ctx, user)
	}
	if len(demoted) > 0 {
		r.log("info", "entitlements demoted", map[string]any{"count": len(demoted)})
	}

	if r.broker != nil {
		if n, err := r.broker.Sweep(ctx); err != nil {
			r.log("warn", "token sweep failed", map[string]any{"error": err.Error()})
		} else if n > 0 {
			r.log("info", "handshake tokens swept", map[string]any{"count": n})
		}
	}
}

func (r *Reconciler) notifyExpiry(ctx context.Context, user *identity.User) {
	if user.TelegramID == nil {
		return
	}
	text := fmt.Sprintf("Your *VIP* access has ended, %s. You are back on the BASIC plan.", expiryName(user))
	if _, err := r.gateway.Send(ctx, *user.TelegramID, text, true); err != nil {
		r.log("warn", "expiry notification failed", map[string]any{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}
}

func (r *Reconciler) log(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":    r.now().UTC().Format(time.RFC3339Nano),
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		entry[k] = v
	}
	obs.LogEntry(entry)
}

func expiryName(u *identity.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.TelegramUsername != "" {
		return u.TelegramUsername
	}
	return "friend"
}
