package messaging

import (
	"context"
	"strings"
	"time"

	"flhub.app/internal/obs"
)

// Update mirrors the subset of a Telegram update the service consumes.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound chat message.
type Message struct {
	MessageID int64   `json:"message_id"`
	From      *Sender `json:"from"`
	Text      string  `json:"text"`
}

// Sender identifies the account that sent a message.
type Sender struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DecodeStart extracts a ClaimEvent from a "/start <token>" command.
// The second return is false for any other update.
func DecodeStart(u Update) (ClaimEvent, bool) {
	if u.Message == nil || u.Message.From == nil {
		return ClaimEvent{}, false
	}
	fields := strings.Fields(u.Message.Text)
	if len(fields) != 2 || fields[0] != "/start" {
		return ClaimEvent{}, false
	}
	return ClaimEvent{
		Profile: Profile{
			ChannelID: u.Message.From.ID,
			Username:  u.Message.From.Username,
			FirstName: u.Message.From.FirstName,
			LastName:  u.Message.From.LastName,
		},
		Token: fields[1],
	}, true
}

// Handler consumes decoded inbound events.
type Handler interface {
	HandleClaim(ctx context.Context, ev ClaimEvent)
	HandleHello(ctx context.Context, p Profile)
}

// Poller long-polls getUpdates and dispatches decoded events. It owns the
// transport loop so the rest of the service never touches the connection.
type Poller struct {
	gateway *Telegram
	handler Handler
	offset  int64
}

// NewPoller constructs a Poller over an existing Telegram gateway.
func NewPoller(gateway *Telegram, handler Handler) *Poller {
	return &Poller{gateway: gateway, handler: handler}
}

// Run polls until the context is cancelled. Transport errors are logged and
// retried after a short backoff; a dead poll loop must not take the API down.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			obs.LogEntry(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "warn",
				"msg":   "telegram poll failed",
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.dispatch(ctx, u)
		}
	}
}

func (p *Poller) fetch(ctx context.Context) ([]Update, error) {
	var updates []Update
	req := map[string]any{
		"offset":          p.offset,
		"timeout":         30,
		"allowed_updates": []string{"message"},
	}
	if err := p.gateway.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (p *Poller) dispatch(ctx context.Context, u Update) {
	if ev, ok := DecodeStart(u); ok {
		p.handler.HandleClaim(ctx, ev)
		return
	}
	if u.Message != nil && u.Message.From != nil && strings.HasPrefix(u.Message.Text, "/start") {
		p.handler.HandleHello(ctx, Profile{
			ChannelID: u.Message.From.ID,
			Username:  u.Message.From.Username,
			FirstName: u.Message.From.FirstName,
			LastName:  u.Message.From.LastName,
		})
	}
}
