package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flhub.app/internal/identity"
	"flhub.app/internal/messaging"
	"flhub.app/internal/obs"
)

// Linker completes the channel side of the handshake: it upserts the user
// for the asserted profile, consumes the token, and replies with the result.
// It is the messaging.Handler the poll loop dispatches into.
type Linker struct {
	identities *identity.Service
	broker     *Broker
	gateway    messaging.Gateway
}

// NewLinker wires the handshake endpoint.
func NewLinker(identities *identity.Service, broker *Broker, gateway messaging.Gateway) *Linker {
	return &Linker{identities: identities, broker: broker, gateway: gateway}
}

// HandleClaim processes "/start <token>". Every outcome is answered in-channel;
// reply failures are logged and dropped.
func (l *Linker) HandleClaim(ctx context.Context, ev messaging.ClaimEvent) {
	user, err := l.identities.FindOrCreateByTelegram(ctx, identity.TelegramProfile{
		ID:        ev.Profile.ChannelID,
		Username:  ev.Profile.Username,
		FirstName: ev.Profile.FirstName,
		LastName:  ev.Profile.LastName,
	})
	if err != nil {
		l.logFailure("handshake user upsert failed", ev.Profile.ChannelID, err)
		l.reply(ctx, ev.Profile.ChannelID, "Something went wrong. Please request a new login link.")
		return
	}

	_, err = l.broker.Claim(ctx, ev.Token, ev.Profile.ChannelID)
	switch {
	case err == nil:
		l.reply(ctx, ev.Profile.ChannelID, fmt.Sprintf(
			"You're in, %s! Head back to the site, the page will pick the login up on its own.",
			displayName(user),
		))
	case errors.Is(err, ErrExpired):
		l.reply(ctx, ev.Profile.ChannelID, "This login link has expired. Request a new one on the site.")
	case errors.Is(err, ErrAlreadyConsumed):
		l.reply(ctx, ev.Profile.ChannelID, "This login link was already used from another account.")
	case errors.Is(err, ErrNotFound):
		l.reply(ctx, ev.Profile.ChannelID, "Unknown login link. Request a new one on the site.")
	default:
		l.logFailure("handshake claim failed", ev.Profile.ChannelID, err)
		l.reply(ctx, ev.Profile.ChannelID, "Something went wrong. Please request a new login link.")
	}
}

// HandleHello answers a bare /start with a pointer at the web flow.
func (l *Linker) HandleHello(ctx context.Context, p messaging.Profile) {
	l.reply(ctx, p.ChannelID, "Hi! To sign in, start from the site and tap the login button there.")
}

func (l *Linker) reply(ctx context.Context, channelID int64, text string) {
	if _, err := l.gateway.Send(ctx, channelID, text, false); err != nil {
		l.logFailure("handshake reply failed", channelID, err)
	}
}

func (l *Linker) logFailure(msg string, channelID int64, err error) {
	obs.LogEntry(map[string]any{
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"level":      "warn",
		"msg":        msg,
		"channel_id": channelID,
		"error":      err.Error(),
	})
}

func displayName(u *identity.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.TelegramUsername != "" {
		return u.TelegramUsername
	}
	return "friend"
}
