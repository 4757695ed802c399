// visualize.go - Console rendering for debugging self-play games.
package selfplay

import (
	"fmt"
	"strings"

	"knucklebones/game"
	"knucklebones/rules"
)

// RenderState returns an ASCII picture of both grids, top row first, with
// scores and the turn marker.
func RenderState(s *game.GameState) string {
	var b strings.Builder

	marker := func(p game.Player) string {
		if s.Phase != game.PhaseEnded && s.CurrentPlayer == p {
			return " <- to move"
		}
		return ""
	}

	fmt.Fprintf(&b, "turn %d, phase %s", s.Turn, s.Phase)
	if s.CurrentDie != 0 {
		fmt.Fprintf(&b, ", die %d", s.CurrentDie)
	}
	b.WriteByte('\n')

	for p := game.PlayerOne; p <= game.PlayerTwo; p++ {
		board := &s.Boards[p]
		fmt.Fprintf(&b, "%s  score %3d%s\n", p, rules.GridScore(board), marker(p))
		for row := game.Rows - 1; row >= 0; row-- {
			b.WriteString("  ")
			for col := 0; col < game.Columns; col++ {
				v := board[col][row]
				if v == 0 {
					b.WriteString("[ ]")
				} else {
					fmt.Fprintf(&b, "[%d]", v)
				}
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
