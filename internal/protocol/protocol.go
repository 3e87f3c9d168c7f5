package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"labyrinth.ai/internal/geo"
)

// Inbound message tags (externally tagged JSON: {"<Tag>": payload} or "<Tag>").
const (
	TypeRadarView             = "RadarView"
	TypeHint                  = "Hint"
	TypeChallenge             = "Challenge"
	TypeActionError           = "ActionError"
	TypeRegisterTeamResult    = "RegisterTeamResult"
	TypeSubscribePlayerResult = "SubscribePlayerResult"
	TypeWelcome               = "Welcome"
)

// Hint variants.
const (
	HintRelativeCompass = "RelativeCompass"
	HintGridSize        = "GridSize"
	HintSecret          = "Secret"
	HintSOSHelper       = "SOSHelper"
)

// Challenge variants.
const (
	ChallengeSecretSumModulo = "SecretSumModulo"
	ChallengeSOS             = "SOS"
)

var ErrUnknownMessage = errors.New("protocol: unknown message")

// Message is one decoded server message. Type selects which field is set.
type Message struct {
	Type string

	Radar       string
	Hint        *Hint
	Challenge   *Challenge
	ActionError string
	Register    *RegisterTeamResult
	Subscribe   *SubscribeResult
}

type Hint struct {
	Kind   string
	Angle  float64
	Grid   geo.GridSize
	Secret *big.Int
}

type Challenge struct {
	Kind   string
	Modulo *big.Int
}

type RegisterTeamResult struct {
	ExpectedPlayers int
	Token           string
	Err             string
}

type SubscribeResult struct {
	Err string
}

func (m Message) String() string {
	switch m.Type {
	case TypeRadarView:
		return "RadarView(" + m.Radar + ")"
	case TypeHint:
		switch m.Hint.Kind {
		case HintRelativeCompass:
			return fmt.Sprintf("Hint(RelativeCompass %.2f)", m.Hint.Angle)
		case HintGridSize:
			return fmt.Sprintf("Hint(GridSize %dx%d)", m.Hint.Grid.Columns, m.Hint.Grid.Rows)
		case HintSecret:
			return "Hint(Secret " + m.Hint.Secret.String() + ")"
		}
		return "Hint(" + m.Hint.Kind + ")"
	case TypeChallenge:
		if m.Challenge.Modulo != nil {
			return "Challenge(" + m.Challenge.Kind + " " + m.Challenge.Modulo.String() + ")"
		}
		return "Challenge(" + m.Challenge.Kind + ")"
	case TypeActionError:
		return "ActionError(" + m.ActionError + ")"
	}
	return m.Type
}

// Decode parses one server message.
func Decode(b []byte) (Message, error) {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return Message{}, err
	}
	m := Message{Type: tag}
	switch tag {
	case TypeWelcome:
	case TypeRadarView:
		err = json.Unmarshal(payload, &m.Radar)
	case TypeHint:
		m.Hint, err = decodeHint(payload)
	case TypeChallenge:
		m.Challenge, err = decodeChallenge(payload)
	case TypeActionError:
		err = json.Unmarshal(payload, &m.ActionError)
	case TypeRegisterTeamResult:
		m.Register, err = decodeRegister(payload)
	case TypeSubscribePlayerResult:
		m.Subscribe, err = decodeSubscribe(payload)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, tag)
	}
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", tag, err)
	}
	return m, nil
}

// splitTagged accepts either a bare "Tag" string or a single-key object.
func splitTagged(b []byte) (string, json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var tag string
		if err := json.Unmarshal(b, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected one variant, got %d keys", len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, nil
}

func decodeHint(b json.RawMessage) (*Hint, error) {
	kind, payload, err := splitTagged(b)
	if err != nil {
		return nil, err
	}
	h := &Hint{Kind: kind}
	switch kind {
	case HintRelativeCompass:
		var v struct {
			Angle float64 `json:"angle"`
		}
		err = json.Unmarshal(payload, &v)
		h.Angle = v.Angle
	case HintGridSize:
		err = json.Unmarshal(payload, &h.Grid)
	case HintSecret:
		h.Secret, err = decodeBig(payload)
	case HintSOSHelper:
	default:
		return nil, fmt.Errorf("%w: hint %q", ErrUnknownMessage, kind)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func decodeChallenge(b json.RawMessage) (*Challenge, error) {
	kind, payload, err := splitTagged(b)
	if err != nil {
		return nil, err
	}
	c := &Challenge{Kind: kind}
	switch kind {
	case ChallengeSecretSumModulo:
		c.Modulo, err = decodeBig(payload)
	case ChallengeSOS:
	default:
		return nil, fmt.Errorf("%w: challenge %q", ErrUnknownMessage, kind)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func decodeRegister(b json.RawMessage) (*RegisterTeamResult, error) {
	kind, payload, err := splitTagged(b)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "Ok":
		var v struct {
			ExpectedPlayers   int    `json:"expected_players"`
			RegistrationToken string `json:"registration_token"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return &RegisterTeamResult{ExpectedPlayers: v.ExpectedPlayers, Token: v.RegistrationToken}, nil
	case "Err":
		return &RegisterTeamResult{Err: rawReason(payload)}, nil
	}
	return nil, fmt.Errorf("unexpected result %q", kind)
}

func decodeSubscribe(b json.RawMessage) (*SubscribeResult, error) {
	kind, payload, err := splitTagged(b)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "Ok":
		return &SubscribeResult{}, nil
	case "Err":
		return &SubscribeResult{Err: rawReason(payload)}, nil
	}
	return nil, fmt.Errorf("unexpected result %q", kind)
}

// decodeBig reads an unsigned integer of any width.
func decodeBig(b json.RawMessage) (*big.Int, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(n.String(), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("bad unsigned integer %q", n)
	}
	return v, nil
}

func rawReason(b json.RawMessage) string {
	var s string
	if json.Unmarshal(b, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(b))
}
