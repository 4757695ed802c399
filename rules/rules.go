// Package rules implements the Knucklebones state machine as pure
// transition functions. Every function takes a *game.GameState and returns
// a fresh state; callers never observe partial mutation.
package rules

import (
	"errors"
	"fmt"

	"knucklebones/game"
)

// Illegal-transition errors. These are never silently corrected: a caller
// driving the state machine out of order has a logic defect.
var (
	ErrWrongPhase = errors.New("transition not legal in current phase")
	ErrBadFace    = errors.New("die face must be 1..6")
	ErrNoDie      = errors.New("no die to place")
	ErrColumnFull = errors.New("column is full")
	ErrBadColumn  = errors.New("column index out of range")
)

// NewGame returns the initial state: empty boards, player one to roll.
func NewGame() *game.GameState {
	return &game.GameState{
		CurrentPlayer: game.PlayerOne,
		Phase:         game.PhaseRolling,
	}
}

// LegalColumns returns the column indices the current player may place
// into, in ascending order. Empty only when the current player's board is
// completely full, which normal play never reaches before PhaseEnded.
func LegalColumns(s *game.GameState) []int {
	board := s.CurrentBoard()
	cols := make([]int, 0, game.Columns)
	for col := 0; col < game.Columns; col++ {
		if !board.ColumnFull(col) {
			cols = append(cols, col)
		}
	}
	return cols
}

// ApplyRoll sets the rolled die and moves to the placing phase.
func ApplyRoll(s *game.GameState, face int) (*game.GameState, error) {
	if s.Phase != game.PhaseRolling {
		return nil, fmt.Errorf("apply roll in phase %s: %w", s.Phase, ErrWrongPhase)
	}
	if face < 1 || face > game.MaxFace {
		return nil, fmt.Errorf("apply roll face %d: %w", face, ErrBadFace)
	}

	next := s.Clone()
	next.CurrentDie = int8(face)
	next.Phase = game.PhasePlacing
	return next, nil
}

// ApplyMove places the rolled die into the chosen column of the mover's
// grid, then removes every die of the same face from the opponent's
// matching column and compacts the survivors downward in order.
//
// If the mover's grid fills up the game ends immediately; otherwise the
// turn passes to the other player, back in the rolling phase.
func ApplyMove(s *game.GameState, col int) (*game.GameState, error) {
	if s.Phase != game.PhasePlacing {
		return nil, fmt.Errorf("apply move in phase %s: %w", s.Phase, ErrWrongPhase)
	}
	if s.CurrentDie == 0 {
		return nil, ErrNoDie
	}
	if col < 0 || col >= game.Columns {
		return nil, fmt.Errorf("apply move column %d: %w", col, ErrBadColumn)
	}

	next := s.Clone()
	mover := next.CurrentPlayer
	myBoard := &next.Boards[mover]
	oppBoard := &next.Boards[mover.Other()]

	row := myBoard.EmptyRow(col)
	if row < 0 {
		return nil, fmt.Errorf("apply move column %d: %w", col, ErrColumnFull)
	}
	face := next.CurrentDie
	myBoard[col][row] = face

	removeMatching(oppBoard, col, face)

	next.Turn++
	if myBoard.Full() {
		next.Phase = game.PhaseEnded
		next.CurrentDie = 0
		return next, nil
	}

	next.CurrentPlayer = mover.Other()
	next.CurrentDie = 0
	next.Phase = game.PhaseRolling
	return next, nil
}

// removeMatching clears every cell in the column holding face, then shifts
// the remaining dice to the bottom preserving their relative order.
func removeMatching(b *game.Board, col int, face int8) {
	var kept [game.Rows]int8
	n := 0
	for row := 0; row < game.Rows; row++ {
		if v := b[col][row]; v != 0 && v != face {
			kept[n] = v
			n++
		}
	}
	for row := 0; row < game.Rows; row++ {
		if row < n {
			b[col][row] = kept[row]
		} else {
			b[col][row] = 0
		}
	}
}

// IsTerminal reports whether the game has ended.
func IsTerminal(s *game.GameState) bool {
	return s.Phase == game.PhaseEnded
}

// Winner returns the winning player of a finished game. ok is false for a
// tie or for a game that has not ended.
func Winner(s *game.GameState) (winner game.Player, ok bool) {
	if s.Phase != game.PhaseEnded {
		return 0, false
	}
	s1 := GridScore(&s.Boards[game.PlayerOne])
	s2 := GridScore(&s.Boards[game.PlayerTwo])
	switch {
	case s1 > s2:
		return game.PlayerOne, true
	case s2 > s1:
		return game.PlayerTwo, true
	}
	return 0, false
}

// OutcomeFor returns the game result from a player's perspective:
// 1 for a win, -1 for a loss, 0 for a draw. A state that has not ended
// also yields 0.
func OutcomeFor(s *game.GameState, p game.Player) float32 {
	winner, ok := Winner(s)
	if !ok {
		return 0
	}
	if winner == p {
		return 1
	}
	return -1
}
