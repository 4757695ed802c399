package mcts

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"knucklebones/game"
	"knucklebones/rules"
)

// fixedClient returns a canned policy and value and counts calls.
type fixedClient struct {
	policy []float32
	value  float32
	calls  int
}

func (c *fixedClient) Predict(state *game.GameState) ([]float32, float32, error) {
	c.calls++
	return append([]float32(nil), c.policy...), c.value, nil
}

func placingState(t *testing.T, face int) *game.GameState {
	t.Helper()
	s, err := rules.ApplyRoll(rules.NewGame(), face)
	require.NoError(t, err)
	return s
}

func newSearcher(client Predictor, temperature float32, seed int64) *MCTS {
	return &MCTS{
		Config: Config{Cpuct: 1.5, Temperature: temperature},
		Client: client,
		Rng:    rand.New(rand.NewSource(seed)),
	}
}

func TestSearchVisitsAndPolicy(t *testing.T) {
	client := &fixedClient{policy: []float32{0.2, 0.5, 0.3}, value: 0.1}
	m := newSearcher(client, 1.0, 1)

	res, err := m.Search(context.Background(), placingState(t, 4), 200)
	require.NoError(t, err)

	root := res.Root
	require.NotNil(t, root)
	require.Equal(t, 200, root.VisitCount, "root receives one visit per simulation")

	childVisits := 0
	for _, child := range root.Children {
		require.NotNil(t, child, "all columns legal at the start")
		childVisits += child.VisitCount
	}
	require.Equal(t, 200, childVisits, "every simulation descends through one root child")

	sum := float32(0)
	for _, p := range res.Policy {
		require.GreaterOrEqual(t, p, float32(0))
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-5, "policy must be a distribution")
	require.Contains(t, []int{0, 1, 2}, res.Action)
}

func TestSearchSingleLegalActionSkipsOracle(t *testing.T) {
	client := &fixedClient{policy: []float32{1, 1, 1}, value: 0}
	m := newSearcher(client, 0, 1)

	s := placingState(t, 2)
	// Fill the mover's columns 0 and 2.
	for col := 0; col < game.Columns; col += 2 {
		for row := 0; row < game.Rows; row++ {
			s.Boards[game.PlayerOne][col][row] = 1
		}
	}

	res, err := m.Search(context.Background(), s, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Action)
	require.Equal(t, [game.NumActions]float32{0, 1, 0}, res.Policy)
	require.Zero(t, client.calls, "short-circuit must not invoke the oracle")
}

func TestSearchNoLegalActions(t *testing.T) {
	client := &fixedClient{policy: []float32{1, 1, 1}, value: 0}
	m := newSearcher(client, 0, 1)

	s := placingState(t, 2)
	s.Boards[game.PlayerOne] = game.Board{
		{1, 1, 1}, {1, 1, 1}, {1, 1, 1},
	}

	res, err := m.Search(context.Background(), s, 10)
	require.NoError(t, err)
	require.Equal(t, 0, res.Action)
	require.Equal(t, [game.NumActions]float32{}, res.Policy)
	require.Zero(t, client.calls)
}

func TestSearchMasksIllegalColumn(t *testing.T) {
	// Oracle loves column 0, but column 0 is full.
	client := &fixedClient{policy: []float32{0.9, 0.05, 0.05}, value: 0}
	m := newSearcher(client, 1.0, 3)

	s := placingState(t, 5)
	for row := 0; row < game.Rows; row++ {
		s.Boards[game.PlayerOne][0][row] = 2
	}

	res, err := m.Search(context.Background(), s, 100)
	require.NoError(t, err)
	require.Zero(t, res.Policy[0], "full column must carry zero probability")
	require.InDelta(t, 1.0, res.Policy[1]+res.Policy[2], 1e-5)
	require.NotEqual(t, 0, res.Action)
}

func TestSearchUniformFallbackOnZeroPriors(t *testing.T) {
	client := &fixedClient{policy: []float32{0, 0, 0}, value: 0}
	m := newSearcher(client, 1.0, 4)

	res, err := m.Search(context.Background(), placingState(t, 3), 60)
	require.NoError(t, err)

	for _, child := range res.Root.Children {
		require.NotNil(t, child)
		require.InDelta(t, 1.0/3.0, child.PriorProb, 1e-6, "zero-mass priors fall back to uniform")
	}
}

func TestSearchDeterministicAtZeroTemperature(t *testing.T) {
	s := placingState(t, 6)

	var first Result
	for trial := 0; trial < 5; trial++ {
		client := &fixedClient{policy: []float32{0.3, 0.4, 0.3}, value: 0.2}
		m := newSearcher(client, 0, 42)
		res, err := m.Search(context.Background(), s, 150)
		require.NoError(t, err)
		if trial == 0 {
			first = res
			continue
		}
		require.Equal(t, first.Action, res.Action, "same oracle, rolls and budget must reproduce the action")
		require.Equal(t, first.Policy, res.Policy)
	}

	onehot := 0
	for _, p := range first.Policy {
		if p == 1.0 {
			onehot++
		} else {
			require.Zero(t, p)
		}
	}
	require.Equal(t, 1, onehot, "temperature 0 yields a one-hot policy")
}

func TestBackpropagationNegatesOpponentEvaluations(t *testing.T) {
	// From the opening position, the first simulation descends one
	// placement edge, so the evaluation happens at an opponent node. The
	// oracle's +0.9 must be stored as -0.9 along the whole path.
	client := &fixedClient{policy: []float32{0.6, 0.2, 0.2}, value: 0.9}
	m := newSearcher(client, 1.0, 11)

	res, err := m.Search(context.Background(), placingState(t, 4), 1)
	require.NoError(t, err)

	root := res.Root
	require.Equal(t, 1, root.VisitCount)
	require.InDelta(t, -0.9, root.ValueSum, 1e-6)

	visited := 0
	for _, child := range root.Children {
		if child != nil && child.VisitCount > 0 {
			visited++
			require.InDelta(t, -0.9, child.ValueSum, 1e-6, "path nodes share the single evaluated value")
		}
	}
	require.Equal(t, 1, visited)
}

func TestSearchHandlesColumnsFilledDuringWalk(t *testing.T) {
	// Die rolls are sampled inside the walk, so a node expanded under one
	// dice history can be revisited under another where a child's column
	// has since filled. Deep searches over full games must absorb that and
	// keep going instead of failing.
	client := &fixedClient{policy: []float32{1.0 / 3, 1.0 / 3, 1.0 / 3}, value: 0}
	rng := rand.New(rand.NewSource(21))

	for trial := 0; trial < 20; trial++ {
		s := rules.NewGame()
		for s.Phase != game.PhaseEnded {
			switch s.Phase {
			case game.PhaseRolling:
				next, err := rules.ApplyRoll(s, rng.Intn(game.MaxFace)+1)
				require.NoError(t, err)
				s = next
			case game.PhasePlacing:
				m := &MCTS{
					Config: Config{Cpuct: 1.5, Temperature: 1.0},
					Client: client,
					Rng:    rng,
				}
				res, err := m.Search(context.Background(), s, 200)
				require.NoError(t, err, "trial %d turn %d", trial, s.Turn)
				next, err := rules.ApplyMove(s, res.Action)
				require.NoError(t, err)
				s = next
			}
		}
	}
}

func TestFirstSimulationFollowsPriors(t *testing.T) {
	// The root's visit is counted on entry, so even the first simulation
	// sees sqrt(N) = 1 and the PUCT bonus orders the children by prior
	// instead of collapsing into a zero-score tie on column 0.
	client := &fixedClient{policy: []float32{0.05, 0.05, 0.9}, value: 0}
	m := newSearcher(client, 1.0, 2)

	res, err := m.Search(context.Background(), placingState(t, 3), 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.Root.Children[2].VisitCount, "highest-prior child must receive the first visit")
	require.Zero(t, res.Root.Children[0].VisitCount)
	require.Zero(t, res.Root.Children[1].VisitCount)
}

func TestChildrenMatchLegalActions(t *testing.T) {
	client := &fixedClient{policy: []float32{0.5, 0.25, 0.25}, value: 0}
	m := newSearcher(client, 1.0, 9)

	s := placingState(t, 1)
	for row := 0; row < game.Rows; row++ {
		s.Boards[game.PlayerOne][2][row] = 4
	}

	res, err := m.Search(context.Background(), s, 50)
	require.NoError(t, err)
	require.NotNil(t, res.Root.Children[0])
	require.NotNil(t, res.Root.Children[1])
	require.Nil(t, res.Root.Children[2], "no child for a full column")
}
