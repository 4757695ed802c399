package mcts

import (
	"math/rand"

	"knucklebones/game"
)

// Node represents a decision state in the MCTS tree.
//
// Chance states (the rolling phase) are folded into the same node: a walk
// samples a die and keeps descending without consuming a tree edge, so one
// node accumulates statistics across the die outcomes reachable from it.
// Placement edges are the only tree edges.
type Node struct {
	VisitCount int
	ValueSum   float32
	PriorProb  float32
	Children   [game.NumActions]*Node
	IsExpanded bool
}

// NewNode creates a new MCTS node.
func NewNode(prior float32) *Node {
	return &Node{PriorProb: prior}
}

// MeanValue is ValueSum / VisitCount, or 0 for an unvisited node.
func (n *Node) MeanValue() float32 {
	if n.VisitCount == 0 {
		return 0
	}
	return n.ValueSum / float32(n.VisitCount)
}

// Config holds MCTS configuration.
type Config struct {
	// Cpuct is the PUCT exploration constant.
	Cpuct float32
	// Temperature shapes the visit-count action distribution.
	// 0 means deterministic argmax.
	Temperature float32
}

// Predictor is the policy/value oracle consulted at expansion.
// Policy is a distribution over the 3 columns; value is in [-1, 1] from
// the perspective of the player to act in the given state.
type Predictor interface {
	Predict(state *game.GameState) (policy []float32, value float32, err error)
}

// MCTS holds the search context for one worker. Not safe for concurrent
// use; each self-play game owns its own instance and RNG.
type MCTS struct {
	Config Config
	Client Predictor
	Rng    *rand.Rand
}
