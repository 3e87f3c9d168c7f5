package geo

import "fmt"

// Position is a team-local coordinate; y grows toward Back.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

func (p Position) Add(dx, dy int) Position { return Position{X: p.X + dx, Y: p.Y + dy} }

// GridSize is the maze dimension hint.
type GridSize struct {
	Columns int `json:"columns"`
	Rows    int `json:"rows"`
}

// Direction is relative to the agent's facing.
type Direction uint8

const (
	Front Direction = iota
	Right
	Left
	Back
)

// All is the canonical enumeration order, also used for tie-breaks.
var All = [4]Direction{Front, Right, Left, Back}

func (d Direction) String() string {
	switch d {
	case Front:
		return "Front"
	case Right:
		return "Right"
	case Left:
		return "Left"
	case Back:
		return "Back"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "Front":
		return Front, nil
	case "Right":
		return Right, nil
	case "Left":
		return Left, nil
	case "Back":
		return Back, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) MarshalText() ([]byte, error) {
	if d > Back {
		return nil, fmt.Errorf("invalid direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Delta is the unit step for d: Front y-1, Back y+1, Right x+1, Left x-1.
func (d Direction) Delta() (dx, dy int) {
	switch d {
	case Front:
		return 0, -1
	case Back:
		return 0, 1
	case Right:
		return 1, 0
	case Left:
		return -1, 0
	}
	return 0, 0
}

func Move(p Position, d Direction) Position {
	dx, dy := d.Delta()
	return p.Add(dx, dy)
}

// Undo reverses a move made in direction d.
func Undo(p Position, d Direction) Position {
	dx, dy := d.Delta()
	return p.Add(-dx, -dy)
}

func (d Direction) Opposite() Direction {
	switch d {
	case Front:
		return Back
	case Back:
		return Front
	case Right:
		return Left
	case Left:
		return Right
	}
	return d
}
