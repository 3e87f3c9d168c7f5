package protocol

import (
	"encoding/json"
	"fmt"

	"labyrinth.ai/internal/geo"
)

type RegisterTeamMsg struct {
	RegisterTeam RegisterTeam `json:"RegisterTeam"`
}

type RegisterTeam struct {
	Name string `json:"name"`
}

type SubscribePlayerMsg struct {
	SubscribePlayer SubscribePlayer `json:"SubscribePlayer"`
}

type SubscribePlayer struct {
	Name              string `json:"name"`
	RegistrationToken string `json:"registration_token"`
}

type ActionMsg struct {
	Action Action `json:"Action"`
}

// Action holds exactly one of MoveTo or SolveChallenge.
type Action struct {
	MoveTo         *geo.Direction  `json:"MoveTo,omitempty"`
	SolveChallenge *SolveChallenge `json:"SolveChallenge,omitempty"`
}

type SolveChallenge struct {
	Answer string `json:"answer"`
}

func NewRegisterTeam(name string) RegisterTeamMsg {
	return RegisterTeamMsg{RegisterTeam: RegisterTeam{Name: name}}
}

func NewSubscribePlayer(name, token string) SubscribePlayerMsg {
	return SubscribePlayerMsg{SubscribePlayer: SubscribePlayer{Name: name, RegistrationToken: token}}
}

func NewMoveTo(d geo.Direction) ActionMsg {
	return ActionMsg{Action: Action{MoveTo: &d}}
}

func NewSolveChallenge(answer string) ActionMsg {
	return ActionMsg{Action: Action{SolveChallenge: &SolveChallenge{Answer: answer}}}
}

// Encode marshals one outbound message body, without the frame header.
func Encode(v any) ([]byte, error) {
	switch v.(type) {
	case RegisterTeamMsg, SubscribePlayerMsg, ActionMsg:
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", v)
	}
	return json.Marshal(v)
}
