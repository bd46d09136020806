package rendezvous

import (
	"context"
	"testing"

	"flhub.app/internal/identity"
	"flhub.app/internal/messaging"
)

type recordingGateway struct {
	sent []string
}

func (g *recordingGateway) Send(_ context.Context, _ int64, text string, _ bool) (bool, error) {
	g.sent = append(g.sent, text)
	return true, nil
}

func TestLinkerClaimBindsChannelIdentity(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker(NewInMemory())
	identities := identity.NewService(identity.NewInMemory())
	gateway := &recordingGateway{}
	linker := NewLinker(identities, broker, gateway)

	token, err := broker.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	linker.HandleClaim(ctx, messaging.ClaimEvent{
		Profile: messaging.Profile{ChannelID: 42, Username: "ada", FirstName: "Ada"},
		Token:   token.Value,
	})

	status, err := broker.Status(ctx, token.Value)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ClaimedBy == nil || *status.ClaimedBy != 42 {
		t.Fatalf("token not bound to channel 42: %+v", status)
	}

	user, err := identities.Store().FindByTelegramID(ctx, 42)
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.Role != identity.RoleBasic {
		t.Fatalf("new user role = %s, want BASIC", user.Role)
	}
	if len(gateway.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(gateway.sent))
	}
}

func TestLinkerClaimUnknownTokenStillReplies(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker(NewInMemory())
	identities := identity.NewService(identity.NewInMemory())
	gateway := &recordingGateway{}
	linker := NewLinker(identities, broker, gateway)

	linker.HandleClaim(ctx, messaging.ClaimEvent{
		Profile: messaging.Profile{ChannelID: 7},
		Token:   "deadbeef",
	})

	if len(gateway.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(gateway.sent))
	}
}
