package nav

import (
	"math"

	"labyrinth.ai/internal/geo"
)

// Order is a total priority over the four directions.
type Order [4]geo.Direction

var (
	orderFront = Order{geo.Front, geo.Right, geo.Left, geo.Back}
	orderRight = Order{geo.Right, geo.Front, geo.Back, geo.Left}
	orderBack  = Order{geo.Back, geo.Left, geo.Right, geo.Front}
	orderLeft  = Order{geo.Left, geo.Front, geo.Back, geo.Right}
)

// NormalizeAngle maps any angle into [0,360).
func NormalizeAngle(angle float64) float64 {
	a := math.Mod(angle, 360)
	if a < 0 {
		a += 360
	}
	return a
}

// FromAngle orders directions by closeness to a compass angle (0 is Front, clockwise).
func FromAngle(angle float64) Order {
	a := NormalizeAngle(angle)
	switch {
	case a <= 45 || a > 315:
		return orderFront
	case a <= 135:
		return orderRight
	case a <= 225:
		return orderBack
	default:
		return orderLeft
	}
}

// FromGridSize favours the long axis of the maze. A nil grid gives the default order.
func FromGridSize(grid *geo.GridSize) Order {
	if grid == nil {
		return orderFront
	}
	if grid.Columns > grid.Rows {
		return Order{geo.Right, geo.Left, geo.Front, geo.Back}
	}
	return Order{geo.Front, geo.Back, geo.Right, geo.Left}
}

// FollowLeaderDirection is the substitute order when mirroring a leader's move:
// the same direction, its lateral neighbours, then the opposite.
func FollowLeaderDirection(d geo.Direction) Order {
	switch d {
	case geo.Right:
		return orderRight
	case geo.Left:
		return orderLeft
	case geo.Back:
		return orderBack
	}
	return orderFront
}
