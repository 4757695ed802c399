package inference

import (
	"knucklebones/game"
	"knucklebones/rules"
)

// HeuristicClient is the fallback oracle used when no trained model is
// available. It returns a uniform policy and a score-differential value:
// clamp((own - opponent) / 200, -1, 1), or the exact game result at a
// terminal state.
type HeuristicClient struct{}

func NewHeuristicClient() *HeuristicClient {
	return &HeuristicClient{}
}

func (h *HeuristicClient) Predict(s *game.GameState) ([]float32, float32, error) {
	uniform := float32(1.0) / float32(game.NumActions)
	policy := []float32{uniform, uniform, uniform}

	if s.Phase == game.PhaseEnded {
		return policy, rules.OutcomeFor(s, s.CurrentPlayer), nil
	}

	own := rules.GridScore(s.CurrentBoard())
	opp := rules.GridScore(s.OpponentBoard())

	value := float32(own-opp) / 200.0
	if value > 1 {
		value = 1
	} else if value < -1 {
		value = -1
	}
	return policy, value, nil
}

func (h *HeuristicClient) Close() error { return nil }
