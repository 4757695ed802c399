package rules

import "knucklebones/game"

// ColumnScore scores one column: for each distinct face v present,
// v * count(v)^2. A face appearing once scores v, twice 4v, three times 9v.
// The quadratic bonus for duplicates is the core balance mechanic of the
// game and both boards are scored with it identically.
func ColumnScore(column [game.Rows]int8) int {
	var counts [game.MaxFace + 1]int
	for _, v := range column {
		if v > 0 {
			counts[v]++
		}
	}

	total := 0
	for face := 1; face <= game.MaxFace; face++ {
		c := counts[face]
		total += face * c * c
	}
	return total
}

// GridScore sums the column scores of a board.
func GridScore(b *game.Board) int {
	total := 0
	for col := 0; col < game.Columns; col++ {
		total += ColumnScore(b[col])
	}
	return total
}
