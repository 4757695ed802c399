package selfplay

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"knucklebones/executor/convert"
	"knucklebones/executor/inference"
	"knucklebones/game"
)

func testConfig() Config {
	return Config{
		Sims:              16,
		Cpuct:             1.5,
		Temperature:       1.0,
		TemperatureCutoff: 8,
	}
}

func TestPlayGameCompletes(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	client := inference.NewHeuristicClient()

	rows, result, err := PlayGame(context.Background(), 0, testConfig(), client, rng, false, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	require.Equal(t, int32(len(rows)), result.Placements, "one row per placement")
	// Removal reopens opponent cells, so games can outlive 2x9 placements.
	// The cap only catches a broken end condition.
	require.Less(t, len(rows), 500, "runaway game")

	for i, row := range rows {
		require.Equal(t, int32(i), row.Move)
		require.Len(t, row.Features, convert.BufferSize)
		require.Equal(t, int32(convert.FeatureSize), row.FeatureDim)
		require.Contains(t, []int32{0, 1, 2}, row.Policy)
		require.Contains(t, []float32{-1, 0, 1}, row.Value)
		require.Equal(t, "selfplay", row.Source)

		sum := row.PolicyP0 + row.PolicyP1 + row.PolicyP2
		require.InDelta(t, 1.0, sum, 1e-4, "recorded policy must be a distribution (row %d)", i)
	}

	// Players alternate strictly until the game ends.
	for i := 1; i < len(rows); i++ {
		require.NotEqual(t, rows[i-1].Player, rows[i].Player, "turn order must alternate")
	}
}

func TestPlayGameOutcomesConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	client := inference.NewHeuristicClient()

	rows, result, err := PlayGame(context.Background(), 1, testConfig(), client, rng, false, nil, nil)
	require.NoError(t, err)

	for _, row := range rows {
		switch result.Winner {
		case -1:
			require.Zero(t, row.Value, "draw yields 0 for both players")
		case row.Player:
			require.Equal(t, float32(1), row.Value)
		default:
			require.Equal(t, float32(-1), row.Value)
		}
	}

	if result.Winner == 0 {
		require.Greater(t, result.ScoreP1, result.ScoreP2)
	}
	if result.Winner == 1 {
		require.Greater(t, result.ScoreP2, result.ScoreP1)
	}
}

func TestPlayGameDeterministicWithSeed(t *testing.T) {
	client := inference.NewHeuristicClient()

	play := func() ([]int32, GameResult) {
		rng := rand.New(rand.NewSource(1234))
		rows, result, err := PlayGame(context.Background(), 2, testConfig(), client, rng, false, nil, nil)
		require.NoError(t, err)
		actions := make([]int32, len(rows))
		for i, r := range rows {
			actions[i] = r.Policy
		}
		return actions, result
	}

	actionsA, resultA := play()
	actionsB, resultB := play()
	require.Equal(t, actionsA, actionsB, "seeded games must replay identically")
	require.Equal(t, resultA.Winner, resultB.Winner)
}

func TestPlayGameCallbacks(t *testing.T) {
	rng := rand.New(rand.NewSource(77))
	client := inference.NewHeuristicClient()

	steps := 0
	states := 0
	var lastState *game.GameState
	rows, _, err := PlayGame(context.Background(), 3, testConfig(), client, rng, false,
		func() { steps++ },
		func(s *game.GameState) { states++; lastState = s },
	)
	require.NoError(t, err)
	require.Equal(t, len(rows), steps)
	require.Equal(t, len(rows), states)
	require.Equal(t, game.PhaseEnded, lastState.Phase)
}

func TestPlayGameCancelledContextDiscardsGame(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	client := inference.NewHeuristicClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, _, err := PlayGame(ctx, 4, testConfig(), client, rng, false, nil, nil)
	require.Error(t, err)
	require.Nil(t, rows)
}

func TestPlayGameConcurrentGamesIndependent(t *testing.T) {
	client := inference.NewHeuristicClient()

	type outcome struct {
		rows int
		err  error
	}
	results := make(chan outcome, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			rng := rand.New(rand.NewSource(int64(i)))
			rows, _, err := PlayGame(context.Background(), i, testConfig(), client, rng, false, nil, nil)
			results <- outcome{rows: len(rows), err: err}
		}(i)
	}
	for i := 0; i < 8; i++ {
		out := <-results
		require.NoError(t, out.err)
		require.Greater(t, out.rows, 0)
		require.Less(t, out.rows, 500)
	}
}
