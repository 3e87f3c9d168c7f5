package team

import (
	"strings"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/radar"
)

// RenderMap draws the observed cells over their bounding box, one row per line.
// Unseen squares are blank.
func RenderMap(cells map[geo.Position]radar.Cell) string {
	if len(cells) == 0 {
		return ""
	}
	first := true
	var lo, hi geo.Position
	for p := range cells {
		if first {
			lo, hi, first = p, p, false
			continue
		}
		if p.X < lo.X {
			lo.X = p.X
		}
		if p.Y < lo.Y {
			lo.Y = p.Y
		}
		if p.X > hi.X {
			hi.X = p.X
		}
		if p.Y > hi.Y {
			hi.Y = p.Y
		}
	}

	var b strings.Builder
	for y := lo.Y; y <= hi.Y; y++ {
		row := make([]byte, 0, hi.X-lo.X+1)
		for x := lo.X; x <= hi.X; x++ {
			c, ok := cells[geo.Position{X: x, Y: y}]
			if !ok {
				row = append(row, ' ')
				continue
			}
			row = append(row, c.Symbol())
		}
		b.WriteString(strings.TrimRight(string(row), " "))
		b.WriteByte('\n')
	}
	return b.String()
}
