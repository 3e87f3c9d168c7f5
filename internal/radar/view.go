package radar

import "strings"

type CellKind uint8

const (
	CellUndefined CellKind = iota
	CellOpen
	CellExit
	CellUnknown
)

func (k CellKind) String() string {
	switch k {
	case CellUndefined:
		return "Undefined"
	case CellOpen:
		return "Open"
	case CellExit:
		return "Exit"
	case CellUnknown:
		return "Unknown"
	}
	return "CellKind(?)"
}

// Cell is one square of the 3x3 radar grid. Code keeps the raw 4-bit pattern for Unknown cells.
type Cell struct {
	Kind CellKind `json:"kind"`
	Code string   `json:"code,omitempty"`
}

func CellFromBits(bits string) Cell {
	switch bits {
	case "1111":
		return Cell{Kind: CellUndefined}
	case "0000":
		return Cell{Kind: CellOpen}
	case "1000", "1001":
		return Cell{Kind: CellExit}
	}
	return Cell{Kind: CellUnknown, Code: bits}
}

func (c Cell) String() string {
	if c.Kind == CellUnknown {
		return "Unknown(" + c.Code + ")"
	}
	return c.Kind.String()
}

// Grid indexes, row-major.
const (
	CellFront = 1
	CellLeft  = 3
	CellSelf  = 4
	CellRight = 5
	CellBack  = 7
	GridCells = 9
)

// View is the decoded radar for one turn.
type View struct {
	Horizontal [4]uint32       `json:"horizontal"`
	Vertical   [3]uint32       `json:"vertical"`
	Cells      [GridCells]Cell `json:"cells"`
}

// Exits returns the grid indexes classified as Exit.
func (v View) Exits() []int {
	var out []int
	for i, c := range v.Cells {
		if c.Kind == CellExit {
			out = append(out, i)
		}
	}
	return out
}

// String renders the cells as three rows, for logs.
func (v View) String() string {
	var b strings.Builder
	for i, c := range v.Cells {
		if i > 0 && i%3 == 0 {
			b.WriteByte('/')
		}
		b.WriteByte(c.Symbol())
	}
	return b.String()
}

// Symbol is the single-character map glyph for the cell.
func (c Cell) Symbol() byte {
	switch c.Kind {
	case CellOpen:
		return '.'
	case CellExit:
		return 'E'
	case CellUndefined:
		return '#'
	}
	return '?'
}
