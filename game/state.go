// Package game defines the core state types for Knucklebones.
//
// These types represent the minimal state needed for rules evaluation and
// neural network inference. The state is designed to be cheaply copyable
// for MCTS tree exploration: boards are fixed-size value arrays, so a
// struct copy is a deep copy.
package game

// Board geometry. Each player owns a 3x3 grid of die faces.
const (
	Columns = 3
	Rows    = 3
	// NumActions is the size of the action space: one action per column.
	NumActions = Columns
	// MaxFace is the highest die face. 0 marks an empty cell.
	MaxFace = 6
)

// Player identifies one of the two seats.
type Player int8

const (
	PlayerOne Player = 0
	PlayerTwo Player = 1
)

// Other returns the opposing player.
func (p Player) Other() Player {
	if p == PlayerOne {
		return PlayerTwo
	}
	return PlayerOne
}

func (p Player) String() string {
	if p == PlayerOne {
		return "p1"
	}
	return "p2"
}

// Phase is the turn-state machine position.
type Phase int8

const (
	// PhaseRolling: the current player must roll a die.
	PhaseRolling Phase = iota
	// PhasePlacing: a die has been rolled and must be placed.
	PhasePlacing
	// PhaseEnded: one grid is full; the game is over.
	PhaseEnded
)

func (ph Phase) String() string {
	switch ph {
	case PhaseRolling:
		return "rolling"
	case PhasePlacing:
		return "placing"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

// Board is one player's grid, column-major: Board[col][row].
// Row 0 is the bottom; filled cells are contiguous from the bottom.
// Cell values are 0 (empty) or a die face 1..6.
type Board [Columns][Rows]int8

// ColumnFull reports whether every cell of a column is occupied.
func (b *Board) ColumnFull(col int) bool {
	for row := 0; row < Rows; row++ {
		if b[col][row] == 0 {
			return false
		}
	}
	return true
}

// Full reports whether every cell of the board is occupied.
func (b *Board) Full() bool {
	for col := 0; col < Columns; col++ {
		if !b.ColumnFull(col) {
			return false
		}
	}
	return true
}

// EmptyRow returns the lowest empty row index in a column, or -1 if full.
func (b *Board) EmptyRow(col int) int {
	for row := 0; row < Rows; row++ {
		if b[col][row] == 0 {
			return row
		}
	}
	return -1
}

// CellCount returns the number of occupied cells on the board.
func (b *Board) CellCount() int {
	n := 0
	for col := 0; col < Columns; col++ {
		for row := 0; row < Rows; row++ {
			if b[col][row] != 0 {
				n++
			}
		}
	}
	return n
}

// GameState is the complete state needed for rules + inference.
//
// Invariants maintained by the rules package:
//   - CurrentDie is non-zero iff Phase == PhasePlacing
//   - Phase == PhaseEnded iff the grid of the player who just placed is full
//
// GameState is immutable by convention: every transition in the rules
// package returns a fresh copy and never mutates its input.
type GameState struct {
	Boards        [2]Board
	CurrentPlayer Player
	CurrentDie    int8 // 0 = no die rolled
	Phase         Phase
	Turn          int32 // number of placements applied so far
}

// Clone performs a deep copy of the game state.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// CurrentBoard returns the grid of the player to move.
func (s *GameState) CurrentBoard() *Board {
	return &s.Boards[s.CurrentPlayer]
}

// OpponentBoard returns the grid of the player not to move.
func (s *GameState) OpponentBoard() *Board {
	return &s.Boards[s.CurrentPlayer.Other()]
}
