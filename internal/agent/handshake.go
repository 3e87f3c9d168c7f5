package agent

import (
	"context"
	"fmt"

	"labyrinth.ai/internal/protocol"
)

// RejectedError is a registration or subscription refused by the server.
type RejectedError struct {
	Step   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Step, e.Reason)
}

// RegisterTeam registers name on a bootstrap connection and returns the expected player count
// and the registration token.
func RegisterTeam(ctx context.Context, c Conn, name string) (protocol.RegisterTeamResult, error) {
	if err := c.WriteMessage(ctx, protocol.NewRegisterTeam(name)); err != nil {
		return protocol.RegisterTeamResult{}, fmt.Errorf("register team: %w", err)
	}
	m, err := awaitResult(ctx, c, protocol.TypeRegisterTeamResult)
	if err != nil {
		return protocol.RegisterTeamResult{}, fmt.Errorf("register team: %w", err)
	}
	if m.Register.Err != "" {
		return *m.Register, &RejectedError{Step: "register team", Reason: m.Register.Err}
	}
	log.Noticef("team %s registered (players=%d)", name, m.Register.ExpectedPlayers)
	return *m.Register, nil
}

// SubscribePlayer joins one player to a registered team.
func SubscribePlayer(ctx context.Context, c Conn, name, token string) error {
	if err := c.WriteMessage(ctx, protocol.NewSubscribePlayer(name, token)); err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	m, err := awaitResult(ctx, c, protocol.TypeSubscribePlayerResult)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	if m.Subscribe.Err != "" {
		return &RejectedError{Step: "subscribe " + name, Reason: m.Subscribe.Err}
	}
	log.Infof("%s subscribed", name)
	return nil
}

// awaitResult skips anything before the reply of type want.
func awaitResult(ctx context.Context, c Conn, want string) (protocol.Message, error) {
	for {
		b, err := c.ReadMessage(ctx)
		if err != nil {
			return protocol.Message{}, err
		}
		m, err := protocol.Decode(b)
		if err != nil {
			log.Warningf("handshake: dropping %q: %v", truncate(b, 120), err)
			continue
		}
		if m.Type == want {
			return m, nil
		}
		log.Debugf("handshake: skipping %s", m)
	}
}
