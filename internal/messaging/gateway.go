package messaging

import "context"

// Gateway sends out-of-band notifications to a messaging channel. The core
// only consumes send/decode primitives; it never owns the channel connection.
type Gateway interface {
	// Send delivers text to the channel identified by channelID. markdown
	// requests rich formatting; implementations may fall back to plain text.
	// The boolean reports whether the message was delivered.
	Send(ctx context.Context, channelID int64, text string, markdown bool) (bool, error)
}

// Profile carries the channel-asserted identity of an inbound sender.
type Profile struct {
	ChannelID int64
	Username  string
	FirstName string
	LastName  string
}

// ClaimEvent is a decoded inbound handshake: a channel identity presenting
// a rendezvous token.
type ClaimEvent struct {
	Profile Profile
	Token   string
}

// Nop is a Gateway that drops every message. Used in tests and when no
// bot token is configured.
type Nop struct{}

func (Nop) Send(ctx context.Context, channelID int64, text string, markdown bool) (bool, error) {
	return false, nil
}
