package observerproto

import (
	"time"

	"labyrinth.ai/internal/geo"
)

// Version is the observer protocol version (separate from the game server protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeReport    = "REPORT"
	TypeHint      = "HINT"
	TypeState     = "STATE"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Agents limits REPORT and HINT messages to these players. Empty means all.
	Agents []string `json:"agents,omitempty"`
	// IncludeMap adds the rendered labyrinth map to STATE messages.
	IncludeMap bool `json:"include_map,omitempty"`
}

// Server -> Client. One decided turn.
type ReportMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	RunID           string        `json:"run_id"`
	Agent           string        `json:"agent"`
	Turn            uint64        `json:"turn"`
	Time            time.Time     `json:"time"`
	Position        geo.Position  `json:"position"`
	Action          geo.Direction `json:"action"`
	Leader          bool          `json:"leader"`
	Branch          string        `json:"branch"`
	Radar           string        `json:"radar"`
}

// Server -> Client. A hint an agent received or an exit it spotted.
type HintMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Agent           string        `json:"agent"`
	Kind            string        `json:"kind"`
	Angle           *float64      `json:"angle,omitempty"`
	Grid            *geo.GridSize `json:"grid,omitempty"`
	Exit            *geo.Position `json:"exit,omitempty"`
}

// Server -> Client. Team summary, sent on subscribe and periodically.
type StateMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	RunID           string        `json:"run_id"`
	Team            string        `json:"team"`
	Leader          string        `json:"leader,omitempty"`
	Connected       int           `json:"connected"`
	Exit            *geo.Position `json:"exit,omitempty"`
	Compass         *float64      `json:"compass,omitempty"`
	Grid            *geo.GridSize `json:"grid,omitempty"`
	MapCells        int           `json:"map_cells"`
	Map             string        `json:"map,omitempty"`
	Agents          []AgentState  `json:"agents"`
}

type AgentState struct {
	Name     string       `json:"name"`
	Position geo.Position `json:"position"`
	Turns    uint64       `json:"turns"`
	Role     string       `json:"role"`
}
