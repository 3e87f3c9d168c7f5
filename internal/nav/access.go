package nav

import (
	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/radar"
)

type accessRule struct {
	cell       int
	horizontal bool
	field      int
	wall       int
}

var accessRules = [4]accessRule{
	geo.Front: {cell: radar.CellFront, horizontal: true, field: 1, wall: 2},
	geo.Right: {cell: radar.CellRight, horizontal: false, field: 1, wall: 2},
	geo.Left:  {cell: radar.CellLeft, horizontal: false, field: 1, wall: 1},
	geo.Back:  {cell: radar.CellBack, horizontal: true, field: 2, wall: 2},
}

// IsAccessible reports whether the neighbour cell in direction d is Open and its wall passage is open.
func IsAccessible(v radar.View, d geo.Direction) bool {
	if int(d) >= len(accessRules) {
		return false
	}
	r := accessRules[d]
	if v.Cells[r.cell].Kind != radar.CellOpen {
		return false
	}
	var passage uint32
	if r.horizontal {
		passage = v.Horizontal[r.field]
	} else {
		passage = v.Vertical[r.field]
	}
	return radar.IsPassageOpen(passage, r.wall)
}

// ChooseAccessibleDirection returns the first accessible direction in dirs.
func ChooseAccessibleDirection(v radar.View, dirs []geo.Direction) (geo.Direction, bool) {
	for _, d := range dirs {
		if IsAccessible(v, d) {
			return d, true
		}
	}
	return 0, false
}

// Accessible lists the accessible directions in canonical order.
func Accessible(v radar.View) []geo.Direction {
	var out []geo.Direction
	for _, d := range geo.All {
		if IsAccessible(v, d) {
			out = append(out, d)
		}
	}
	return out
}
