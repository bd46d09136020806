package rendezvous

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"flhub.app/internal/obs"
)

// Token is a short-lived, single-use shared secret linking a web login flow
// to a messaging-channel identity.
type Token struct {
	Value     string
	CreatedAt time.Time
	ExpiresAt time.Time
	ClaimedBy *int64
	Consumed  bool
}

var (
	ErrNotFound        = errors.New("rendezvous: token not found")
	ErrExpired         = errors.New("rendezvous: token expired")
	ErrAlreadyConsumed = errors.New("rendezvous: token already consumed")
)

// Store persists tokens. Consume must be a single atomic conditional
// update: of any number of concurrent claimants exactly one wins.
type Store interface {
	Insert(ctx context.Context, t *Token) error
	Find(ctx context.Context, value string) (*Token, error)

	// Consume marks the token consumed by channelID iff it is currently
	// unconsumed and unexpired, returning the committed record and whether
	// this call won the transition.
	Consume(ctx context.Context, value string, channelID int64, now time.Time) (*Token, bool, error)

	// DeleteExpired removes tokens past their expiry and reports the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

const (
	defaultTTL   = 30 * time.Minute
	tokenEntropy = 16 // bytes; 128 bits on the wire as hex
)

// Broker issues and atomically consumes handshake tokens.
type Broker struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures the Broker.
type Option func(*Broker)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(b *Broker) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(b *Broker) {
		if fn != nil {
			b.now = fn
		}
	}
}

// NewBroker constructs a Broker over the given store.
func NewBroker(store Store, opts ...Option) *Broker {
	b := &Broker{
		store: store,
		ttl:   defaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Issue generates a fresh token and persists it. If persistence fails the
// token is still returned so the login flow is not blocked; the client will
// simply fail at claim time. The trade is scoped to issuance, consumption
// always fails closed.
func (b *Broker) Issue(ctx context.Context) (Token, error) {
	buf := make([]byte, tokenEntropy)
	if _, err := rand.Read(buf); err != nil {
		return Token{}, err
	}
	now := b.now().UTC()
	token := Token{
		Value:     hex.EncodeToString(buf),
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}
	if err := b.store.Insert(ctx, &token); err != nil {
		obs.LogEntry(map[string]any{
			"ts":    now.Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "handshake token not persisted",
			"error": err.Error(),
		})
		return token, nil
	}
	obs.TokensIssued.Inc()
	return token, nil
}

// Claim binds the token to a channel identity exactly once. A replay by the
// claimant that already consumed the token returns the committed record; a
// different claimant gets ErrAlreadyConsumed.
func (b *Broker) Claim(ctx context.Context, value string, channelID int64) (Token, error) {
	now := b.now().UTC()

	token, err := b.store.Find(ctx, value)
	if err != nil {
		return Token{}, err
	}
	if token.Consumed {
		return b.replayOrConflict(token, channelID)
	}
	if !token.ExpiresAt.After(now) {
		return Token{}, ErrExpired
	}

	committed, won, err := b.store.Consume(ctx, value, channelID, now)
	if err != nil {
		return Token{}, err
	}
	if won {
		obs.TokensClaimed.Inc()
		return *committed, nil
	}

	// Lost the conditional update: either a concurrent claimant won or the
	// token lapsed between the read and the write. Re-read to tell them apart.
	token, err = b.store.Find(ctx, value)
	if err != nil {
		return Token{}, err
	}
	if token.Consumed {
		return b.replayOrConflict(token, channelID)
	}
	return Token{}, ErrExpired
}

func (b *Broker) replayOrConflict(token *Token, channelID int64) (Token, error) {
	if token.ClaimedBy != nil && *token.ClaimedBy == channelID {
		// Replay by the winning claimant is idempotent while the token lives.
		if !token.ExpiresAt.After(b.now().UTC()) {
			return Token{}, ErrExpired
		}
		return *token, nil
	}
	return Token{}, ErrAlreadyConsumed
}

// Status reports the token's current state without mutating anything. Web
// clients poll it while the channel side completes the handshake.
func (b *Broker) Status(ctx context.Context, value string) (Token, error) {
	token, err := b.store.Find(ctx, value)
	if err != nil {
		return Token{}, err
	}
	if !token.Consumed && !token.ExpiresAt.After(b.now().UTC()) {
		return Token{}, ErrExpired
	}
	return *token, nil
}

// Sweep deletes tokens past expiry. Safe to run opportunistically or on a
// timer; expiry itself never depends on it.
func (b *Broker) Sweep(ctx context.Context) (int64, error) {
	return b.store.DeleteExpired(ctx, b.now().UTC())
}
