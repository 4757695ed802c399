package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"

	"knucklebones/game"
	"knucklebones/rules"
)

// Result is the outcome of one search call.
//
// Policy is the training target: the visit-count distribution over all 3
// columns after temperature shaping. Illegal columns always carry
// probability 0.
type Result struct {
	Action int
	Policy [game.NumActions]float32
	Root   *Node
}

// Search runs the configured number of simulations from rootState and
// selects an action from the resulting visit counts.
//
// With one legal action the search short-circuits to a one-hot result
// without consulting the oracle; with none it returns action 0 and an
// all-zero policy. rootState must be in the placing phase otherwise.
func (m *MCTS) Search(ctx context.Context, rootState *game.GameState, simulations int) (Result, error) {
	legal := rules.LegalColumns(rootState)

	if len(legal) == 0 {
		return Result{Action: 0}, nil
	}
	if len(legal) == 1 {
		var res Result
		res.Action = legal[0]
		res.Policy[legal[0]] = 1.0
		return res, nil
	}

	root := NewNode(1.0)
	rootPlayer := rootState.CurrentPlayer

	// Expand the root up front so the first simulation selects instead of
	// terminating immediately. The root's own evaluation is discarded.
	if _, err := m.expand(root, rootState); err != nil {
		return Result{}, err
	}

	for i := 0; i < simulations; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
		}
		if err := m.simulate(root, rootState, rootPlayer); err != nil {
			return Result{}, err
		}
	}

	return m.selectAction(root)
}

// simulate walks one path from the root, expands or terminates, and backs
// the resulting value up the path. Visit counts are incremented on entry,
// so PUCT selection sees the parent's current simulation from the start.
func (m *MCTS) simulate(root *Node, rootState *game.GameState, rootPlayer game.Player) error {
	node := root
	state := rootState
	node.VisitCount++
	path := []*Node{root}

	var value float32

walk:
	for {
		switch state.Phase {
		case game.PhaseEnded:
			value = rules.OutcomeFor(state, rootPlayer)
			break walk

		case game.PhaseRolling:
			// Chance step: sample a die and continue from the same node.
			next, err := rules.ApplyRoll(state, m.Rng.Intn(game.MaxFace)+1)
			if err != nil {
				return err
			}
			state = next

		case game.PhasePlacing:
			if !node.IsExpanded {
				v, err := m.expand(node, state)
				if err != nil {
					return err
				}
				value = v
				// A single sign adjustment, at the point of evaluation.
				// Backpropagation never negates per depth: the whole tree
				// is scored from the root player's perspective.
				if state.CurrentPlayer != rootPlayer {
					value = -value
				}
				break walk
			}

			action := m.selectChild(node)
			if action < 0 {
				value = scoreValue(state, rootPlayer)
				break walk
			}
			next, err := rules.ApplyMove(state, action)
			if err != nil {
				// Die rolls are folded into the tree, so a node expanded
				// under one dice history can be revisited under another
				// where this child's column has since filled. Stop here
				// and score the position instead of descending.
				if errors.Is(err, rules.ErrColumnFull) {
					value = scoreValue(state, rootPlayer)
					break walk
				}
				return fmt.Errorf("select legal action %d: %w", action, err)
			}
			state = next
			node = node.Children[action]
			node.VisitCount++
			path = append(path, node)
		}
	}

	for _, n := range path {
		n.ValueSum += value
	}
	return nil
}

// scoreValue is the score-differential fallback for walks that stop at a
// position without an oracle evaluation: clamp((own-opp)/200, -1, 1) for
// the given player, or the exact result once the game has ended.
func scoreValue(s *game.GameState, p game.Player) float32 {
	if s.Phase == game.PhaseEnded {
		return rules.OutcomeFor(s, p)
	}
	own := rules.GridScore(&s.Boards[p])
	opp := rules.GridScore(&s.Boards[p.Other()])
	v := float32(own-opp) / 200.0
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return v
}

// expand queries the oracle, attaches one child per legal action with its
// masked and renormalized prior, and returns the oracle's value estimate
// from the acting player's perspective.
func (m *MCTS) expand(node *Node, state *game.GameState) (float32, error) {
	legal := rules.LegalColumns(state)
	if len(legal) == 0 {
		return 0, nil
	}

	policy, value, err := m.Client.Predict(state)
	if err != nil {
		return 0, fmt.Errorf("oracle predict: %w", err)
	}

	var masked [game.NumActions]float32
	sum := float32(0)
	for _, col := range legal {
		if col < len(policy) {
			masked[col] = policy[col]
			sum += policy[col]
		}
	}
	if sum > 0 {
		for _, col := range legal {
			masked[col] /= sum
		}
	} else {
		uniform := 1.0 / float32(len(legal))
		for _, col := range legal {
			masked[col] = uniform
		}
	}

	for _, col := range legal {
		node.Children[col] = NewNode(masked[col])
	}
	node.IsExpanded = true

	return value, nil
}

// selectChild picks the child maximizing the PUCT score
// Q(s,a) + c * P(s,a) * sqrt(N(s)) / (1 + N(s,a)).
func (m *MCTS) selectChild(node *Node) int {
	best := -1
	bestScore := float32(math.Inf(-1))

	sqrtN := float32(math.Sqrt(float64(node.VisitCount)))

	for action := 0; action < game.NumActions; action++ {
		child := node.Children[action]
		if child == nil {
			continue
		}

		u := child.MeanValue() + m.Config.Cpuct*child.PriorProb*sqrtN/(1+float32(child.VisitCount))
		if u > bestScore {
			bestScore = u
			best = action
		}
	}
	return best
}

// selectAction converts root visit counts into the final action and the
// training-target policy.
func (m *MCTS) selectAction(root *Node) (Result, error) {
	var visits [game.NumActions]float32
	for action, child := range root.Children {
		if child != nil {
			visits[action] = float32(child.VisitCount)
		}
	}

	res := Result{Root: root}

	if m.Config.Temperature == 0 {
		// Deterministic argmax; ties break to the first column.
		best := -1
		bestVisits := float32(-1)
		for action, child := range root.Children {
			if child != nil && visits[action] > bestVisits {
				bestVisits = visits[action]
				best = action
			}
		}
		res.Action = best
		res.Policy[best] = 1.0
		return res, nil
	}

	invTemp := 1.0 / float64(m.Config.Temperature)
	sum := float32(0)
	for action, child := range root.Children {
		if child == nil {
			continue
		}
		res.Policy[action] = float32(math.Pow(float64(visits[action]), invTemp))
		sum += res.Policy[action]
	}
	if sum <= 0 {
		// All children unvisited (zero-simulation search): fall back to a
		// uniform distribution over the legal actions.
		n := 0
		for _, child := range root.Children {
			if child != nil {
				n++
			}
		}
		for action, child := range root.Children {
			if child != nil {
				res.Policy[action] = 1.0 / float32(n)
			}
		}
		sum = 1.0
	} else {
		for action := range res.Policy {
			res.Policy[action] /= sum
		}
	}

	r := m.Rng.Float32()
	cumulative := float32(0)
	res.Action = -1
	for action := 0; action < game.NumActions; action++ {
		cumulative += res.Policy[action]
		if r < cumulative {
			res.Action = action
			break
		}
	}
	if res.Action < 0 {
		// Float rounding at the tail: take the last action with mass.
		for action := game.NumActions - 1; action >= 0; action-- {
			if res.Policy[action] > 0 {
				res.Action = action
				break
			}
		}
	}
	return res, nil
}
